package api

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/twinledger/internal/config"
	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/Harshitk-cp/twinledger/internal/store"
	"github.com/Harshitk-cp/twinledger/internal/store/sqlite"
	"go.uber.org/zap"
)

// Backend is one storage backend's set of stores.
type Backend struct {
	Name      string
	Tenants   domain.TenantStore
	Beliefs   domain.BeliefStore
	Graph     domain.GraphStore
	Jobs      domain.JobStore
	Documents domain.DocumentStore

	ping  func(ctx context.Context) error
	close func()
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenBackend connects the backend chosen by STORAGE_BACKEND and applies
// pending migrations.
func OpenBackend(ctx context.Context, logger *zap.Logger) (*Backend, error) {
	if config.StorageBackend() == config.BackendSQLite {
		db, err := sqlite.Open(config.SQLitePath())
		if err != nil {
			return nil, err
		}
		applied, err := db.AppliedMigrations()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("sqlite database ready", zap.String("path", config.SQLitePath()), zap.Ints("migrations", applied))
		return NewSQLiteBackend(db), nil
	}

	if config.DatabaseURL() == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	pool, err := store.Connect(ctx, config.DatabaseURL())
	if err != nil {
		return nil, err
	}
	applied, err := store.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("postgres database ready", zap.Ints("applied_migrations", applied))
	return &Backend{
		Name:      config.BackendPostgres,
		Tenants:   store.NewTenantStore(pool),
		Beliefs:   store.NewBeliefStore(pool),
		Graph:     store.NewGraphStore(pool),
		Jobs:      store.NewJobStore(pool),
		Documents: store.NewDocumentStore(pool),
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}

func NewSQLiteBackend(db *sqlite.DB) *Backend {
	return &Backend{
		Name:      config.BackendSQLite,
		Tenants:   sqlite.NewTenantStore(db),
		Beliefs:   sqlite.NewBeliefStore(db),
		Graph:     sqlite.NewGraphStore(db),
		Jobs:      sqlite.NewJobStore(db),
		Documents: sqlite.NewDocumentStore(db),
		ping:      db.Ping,
		close:     func() { _ = db.Close() },
	}
}

// Ensure stores satisfy interfaces at compile time.
var (
	_ domain.TenantStore   = (*store.TenantStore)(nil)
	_ domain.BeliefStore   = (*store.BeliefStore)(nil)
	_ domain.GraphStore    = (*store.GraphStore)(nil)
	_ domain.JobStore      = (*store.JobStore)(nil)
	_ domain.DocumentStore = (*store.DocumentStore)(nil)
	_ domain.TenantStore   = (*sqlite.TenantStore)(nil)
	_ domain.BeliefStore   = (*sqlite.BeliefStore)(nil)
	_ domain.GraphStore    = (*sqlite.GraphStore)(nil)
	_ domain.JobStore      = (*sqlite.JobStore)(nil)
	_ domain.DocumentStore = (*sqlite.DocumentStore)(nil)
)
