// Package storage persists published tariff contracts. The engine itself
// keeps compiled tariffs in memory; storage exists so a restarted service
// can recompile everything that was ever published.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/gridrater/gridrater/pkg/types"
)

// ErrContractNotFound is returned when looking up an unknown contract ID.
var ErrContractNotFound = errors.New("contract not found")

// Database defines the interface for persisting tariff contracts.
type Database interface {
	// UpsertContract adds or replaces a contract by ID.
	UpsertContract(ctx context.Context, c types.TariffContract) error

	// GetContract returns the contract with the given ID, or
	// ErrContractNotFound.
	GetContract(ctx context.Context, id string) (types.TariffContract, error)

	// ListContracts returns every stored contract, ordered by ID.
	ListContracts(ctx context.Context) ([]types.TariffContract, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "memory", "Storage provider to use (available: memory, firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Database = NewMemoryDatabase()
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = fs
		case "sqlite":
			if err := sq.Init(); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = sq
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
