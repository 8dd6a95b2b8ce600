package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gridrater/gridrater/pkg/types"
)

// MemoryDatabase is a non-persistent Database for development and tests.
type MemoryDatabase struct {
	mu        sync.Mutex
	contracts map[string]types.TariffContract
}

// NewMemoryDatabase creates an empty in-memory database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{contracts: make(map[string]types.TariffContract)}
}

// UpsertContract implements the Database interface.
func (m *MemoryDatabase) UpsertContract(_ context.Context, c types.TariffContract) error {
	if c.ID == "" {
		return fmt.Errorf("contract has no ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts[c.ID] = c
	return nil
}

// GetContract implements the Database interface.
func (m *MemoryDatabase) GetContract(_ context.Context, id string) (types.TariffContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return types.TariffContract{}, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	return c, nil
}

// ListContracts implements the Database interface.
func (m *MemoryDatabase) ListContracts(_ context.Context) ([]types.TariffContract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TariffContract, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements the Database interface.
func (m *MemoryDatabase) Close() error {
	return nil
}
