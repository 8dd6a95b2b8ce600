package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/levenlabs/go-lflag"
	"github.com/gridrater/gridrater/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// contractRecord is the sqlite row shape for a stored contract. The
// contract itself travels as a JSON blob, mirroring the firestore document
// layout, with a couple of columns broken out for ad-hoc queries.
type contractRecord struct {
	ID        string `gorm:"primaryKey"`
	JSON      string
	PowerType string
	Broker    string
	UpdatedAt time.Time
}

func (contractRecord) TableName() string {
	return "contracts"
}

// SQLiteProvider implements the Database interface on a local sqlite file.
// It is the storage of choice for single-node and development deployments.
type SQLiteProvider struct {
	db   *gorm.DB
	path string
}

// configuredSQLite sets up the sqlite provider.
// It registers flags for configuration.
func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "gridrater.db", "Path to the sqlite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// Init opens the database and migrates the schema. This must be called
// before using the provider methods.
func (s *SQLiteProvider) Init() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite db %s: %w", s.path, err)
	}
	if err := db.AutoMigrate(&contractRecord{}); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the underlying connection.
func (s *SQLiteProvider) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertContract adds or replaces a contract row.
func (s *SQLiteProvider) UpsertContract(ctx context.Context, c types.TariffContract) error {
	if c.ID == "" {
		return fmt.Errorf("contract has no ID")
	}
	jsonBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contract %s: %w", c.ID, err)
	}
	rec := contractRecord{
		ID:        c.ID,
		JSON:      string(jsonBytes),
		PowerType: string(c.PowerType),
		Broker:    c.Broker,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", c.ID, err)
	}
	return nil
}

// GetContract retrieves a contract row by ID.
func (s *SQLiteProvider) GetContract(ctx context.Context, id string) (types.TariffContract, error) {
	var rec contractRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.TariffContract{}, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	if err != nil {
		return types.TariffContract{}, fmt.Errorf("failed to get contract %s: %w", id, err)
	}
	var c types.TariffContract
	if err := json.Unmarshal([]byte(rec.JSON), &c); err != nil {
		return types.TariffContract{}, fmt.Errorf("failed to unmarshal contract %s: %w", id, err)
	}
	return c, nil
}

// ListContracts retrieves every contract row, ordered by ID.
func (s *SQLiteProvider) ListContracts(ctx context.Context) ([]types.TariffContract, error) {
	var recs []contractRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("error listing contracts: %w", err)
	}
	contracts := make([]types.TariffContract, 0, len(recs))
	for _, rec := range recs {
		var c types.TariffContract
		if err := json.Unmarshal([]byte(rec.JSON), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contract %s: %w", rec.ID, err)
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}
