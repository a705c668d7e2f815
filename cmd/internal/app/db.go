package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/ledger"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

// backend owns the persistence resources for one run. Stores borrow the pool or db;
// only close releases them.
type backend struct {
	name   string
	users  identity.Store
	ledger ledger.Store

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

// openBackend builds the identity and ledger stores for cfg.Backend.
func openBackend(ctx context.Context, cfg StorageConfig, log Logger) (*backend, error) {
	name, err := storage.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	switch name {
	case storage.BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := storage.MigratePostgres(ctx, pool, cfg.Schema); err != nil {
				pool.Close()
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.Schema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		txs, err := ledger.NewPostgresStore(pool, cfg.Schema)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.Schema, "auto_migrate", cfg.AutoMigrate)
		return &backend{name: name, users: users, ledger: txs, pool: pool}, nil

	case storage.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		users, err := identity.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		txs, err := ledger.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return &backend{name: name, users: users, ledger: txs, sqlDB: db}, nil

	default:
		users := identity.NewMemoryStore()
		log.Info("db.disabled.inmemory_store")
		return &backend{name: name, users: users, ledger: ledger.NewMemoryStore(users)}, nil
	}
}

// ping is the readiness probe. The memory backend is always ready.
func (b *backend) ping(ctx context.Context) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, 2*time.Second)
	case b.sqlDB != nil:
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return b.sqlDB.PingContext(pctx)
	default:
		return nil
	}
}

func (b *backend) close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.sqlDB != nil {
		return b.sqlDB.Close()
	}
	return nil
}

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
// It does NOT run migrations.
func NewDBPool(ctx context.Context, cfg StorageConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// Migrate applies the schema for cfg's backend and reports what it did.
func Migrate(ctx context.Context, cfg StorageConfig) (string, error) {
	name, err := storage.ParseBackend(cfg.Backend)
	if err != nil {
		return "", err
	}
	switch name {
	case storage.BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return "", fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := storage.MigratePostgres(ctx, pool, cfg.Schema); err != nil {
			return "", err
		}
		return fmt.Sprintf("postgres schema %q is up to date", cfg.Schema), nil
	case storage.BackendSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return "", err
		}
		if err := db.Close(); err != nil {
			return "", err
		}
		return fmt.Sprintf("sqlite database %s is up to date", cfg.SQLitePath), nil
	default:
		return "memory backend has no schema", nil
	}
}
