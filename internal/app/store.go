package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/khuzaima-ocs/Synapse/internal/config"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/repo/postgres"
	"github.com/khuzaima-ocs/Synapse/internal/repo/sqlite"
	"github.com/khuzaima-ocs/Synapse/internal/service/adapters"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

const sqliteFileName = "synapse.db"

type migrator interface {
	Migrate(ctx context.Context) error
}

// OpenRepository opens the store selected by cfg.StoreDriver.
func OpenRepository(ctx context.Context, cfg config.Config) (ports.Repository, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("SYNAPSE_DATABASE_URL is required for the postgres store")
		}
		store, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Printf("[store] driver=postgres")
		return store, nil
	case config.StoreDriverSQLite:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, sqliteFileName)
		}
		store, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		log.Printf("[store] driver=sqlite path=%s", dsn)
		return store, nil
	default:
		store, err := repo.NewStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		log.Printf("[store] driver=file data_dir=%s", cfg.DataDir)
		return adapters.NewRepoStateStore(store), nil
	}
}

// MigrateRepository creates the schema for SQL backed stores. The file store
// migrates itself on open.
func MigrateRepository(ctx context.Context, repository ports.Repository) error {
	m, ok := repository.(migrator)
	if !ok {
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}
