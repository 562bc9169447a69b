package core

import (
	"context"
	"fmt"

	"ratedesk/internal/config"
	"ratedesk/internal/infra/persistence/memory"
	"ratedesk/internal/infra/persistence/postgres"
	"ratedesk/internal/infra/persistence/sqlite"
	"ratedesk/pkg/domain"
)

// StorageDriver identifies a record store backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // warehouse
)

// OpenRecordStore builds the backend selected by cfg.Driver (default sqlite).
func OpenRecordStore(ctx context.Context, cfg config.Storage) (domain.RecordStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.DSN())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// Migrate creates the variant tables when the store supports it.
func Migrate(ctx context.Context, store domain.RecordStore, variants []domain.Variant) error {
	m, ok := store.(domain.Migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx, variants); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
