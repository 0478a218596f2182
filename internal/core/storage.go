package core

import (
	"fmt"

	"synister/internal/infra/persistence/memory"
	"synister/internal/infra/persistence/postgres"
	"synister/internal/infra/persistence/sqlite"
	"synister/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions selects and locates a backend.
type StorageOptions struct {
	Driver     StorageDriver
	SQLitePath string
	// PostgresDSN is used as-is when set; otherwise Credentials are rendered.
	PostgresDSN string
	Credentials postgres.Credentials
}

// OpenPersistentStore opens the configured backend. An empty driver selects sqlite.
func OpenPersistentStore(opts StorageOptions, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(opts.SQLitePath, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		dsn := opts.PostgresDSN
		if dsn == "" {
			dsn = opts.Credentials.DSN()
		}
		store, err := postgres.NewStore(dsn, engine)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
