package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const contractsCollection = "contracts"

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each contract is stored as a JSON blob in a document keyed by
// its contract ID.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// UpsertContract adds or replaces a contract document.
func (f *FirestoreProvider) UpsertContract(ctx context.Context, c types.TariffContract) error {
	if c.ID == "" {
		return fmt.Errorf("contract has no ID")
	}
	jsonBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contract %s: %w", c.ID, err)
	}
	_, err = f.client.Collection(contractsCollection).Doc(c.ID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"powerType": string(c.PowerType),
		"broker":    c.Broker,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert contract %s: %w", c.ID, err)
	}
	return nil
}

// GetContract retrieves a contract document by ID.
func (f *FirestoreProvider) GetContract(ctx context.Context, id string) (types.TariffContract, error) {
	doc, err := f.client.Collection(contractsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.TariffContract{}, fmt.Errorf("%w: %s", ErrContractNotFound, id)
		}
		return types.TariffContract{}, fmt.Errorf("failed to get contract %s: %w", id, err)
	}
	return decodeContractDoc(ctx, id, doc)
}

// ListContracts retrieves every contract document. Malformed documents are
// logged and skipped so one bad write cannot take down startup recovery.
func (f *FirestoreProvider) ListContracts(ctx context.Context) ([]types.TariffContract, error) {
	iter := f.client.Collection(contractsCollection).Documents(ctx)
	defer iter.Stop()

	var contracts []types.TariffContract
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating contracts: %w", err)
		}
		c, err := decodeContractDoc(ctx, doc.Ref.ID, doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed contract doc",
				slog.String("contractID", doc.Ref.ID), slog.Any("err", err))
			continue
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}

type docDataer interface {
	DataAt(path string) (interface{}, error)
}

func decodeContractDoc(ctx context.Context, id string, doc docDataer) (types.TariffContract, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "contract doc missing json", slog.String("contractID", id))
		return types.TariffContract{}, fmt.Errorf("contract %s missing 'json' field: %w", id, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "contract doc json not string", slog.String("contractID", id))
		return types.TariffContract{}, fmt.Errorf("contract %s 'json' field is not a string", id)
	}
	var c types.TariffContract
	if err := json.Unmarshal([]byte(jsonStr), &c); err != nil {
		return types.TariffContract{}, fmt.Errorf("failed to unmarshal contract %s: %w", id, err)
	}
	return c, nil
}
