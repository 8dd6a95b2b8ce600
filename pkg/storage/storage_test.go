package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func sampleContract(id string) types.TariffContract {
	r := types.NewRateRule()
	r.ID = id + "-r1"
	r.Fixed = true
	r.Value = -0.10
	return types.TariffContract{
		ID:        id,
		Broker:    "test",
		PowerType: types.PowerTypeConsumption,
		Rates:     []*types.RateRule{r},
	}
}

// exerciseDatabase runs the contract round-trip shared by every provider.
func exerciseDatabase(t *testing.T, db Database) {
	ctx := context.Background()

	_, err := db.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, ErrContractNotFound)

	require.NoError(t, db.UpsertContract(ctx, sampleContract("b")))
	require.NoError(t, db.UpsertContract(ctx, sampleContract("a")))

	c, err := db.GetContract(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", c.ID)
	assert.Equal(t, "test", c.Broker)
	require.Len(t, c.Rates, 1)
	assert.Equal(t, types.NoTime, c.Rates[0].DailyBegin)
	assert.InDelta(t, -0.10, c.Rates[0].Value, 1e-9)

	// upsert replaces
	updated := sampleContract("a")
	updated.Broker = "other"
	require.NoError(t, db.UpsertContract(ctx, updated))
	c, err = db.GetContract(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "other", c.Broker)

	list, err := db.ListContracts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	// contracts need an ID
	assert.Error(t, db.UpsertContract(ctx, types.TariffContract{}))
}

func TestMemoryDatabase(t *testing.T) {
	db := NewMemoryDatabase()
	exerciseDatabase(t, db)
	assert.NoError(t, db.Close())
}

func TestSQLiteProvider(t *testing.T) {
	s := &SQLiteProvider{path: filepath.Join(t.TempDir(), "test.db")}
	require.NoError(t, s.Init())
	exerciseDatabase(t, s)
	assert.NoError(t, s.Close())
}

func TestSQLiteProviderPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s := &SQLiteProvider{path: path}
	require.NoError(t, s.Init())
	require.NoError(t, s.UpsertContract(ctx, sampleContract("a")))
	require.NoError(t, s.Close())

	// reopen and read back
	s = &SQLiteProvider{path: path}
	require.NoError(t, s.Init())
	c, err := s.GetContract(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", c.ID)
	require.NoError(t, s.Close())
}
