package tariff

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks compiled tariffs by contract ID. It is consulted during
// Init for supersession resolution and by the serving layer for lookups.
type Registry interface {
	// Register adds a tariff. Registering an ID twice is an error.
	Register(t *Tariff) error

	// FindByID returns the tariff for the given contract ID, or nil.
	FindByID(id string) *Tariff

	// All returns every registered tariff, ordered by ID.
	All() []*Tariff
}

// MemoryRegistry is the in-process Registry. The mutex only guards the
// index; the tariffs themselves follow the single-writer rules described
// on Tariff.
type MemoryRegistry struct {
	mu   sync.Mutex
	byID map[string]*Tariff
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{byID: make(map[string]*Tariff)}
}

// Register implements the Registry interface.
func (r *MemoryRegistry) Register(t *Tariff) error {
	if t.ID() == "" {
		return fmt.Errorf("tariff has no ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[t.ID()]; ok {
		return fmt.Errorf("tariff %s already registered", t.ID())
	}
	r.byID[t.ID()] = t
	return nil
}

// FindByID implements the Registry interface.
func (r *MemoryRegistry) FindByID(id string) *Tariff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// All implements the Registry interface.
func (r *MemoryRegistry) All() []*Tariff {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Tariff, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
