package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

// Integration tests are opt-in and require TALLY_TEST_DATABASE_URL.
// Outside CI an unreachable Postgres skips them to keep local runs fast.

// postgresFactory returns nil when no database is configured.
func postgresFactory(t *testing.T) func(t *testing.T) Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TALLY_TEST_DATABASE_URL"))
	if dsn == "" {
		return nil
	}
	return func(t *testing.T) Store {
		pool := mustOpenTestPool(t, dsn)
		schema := mustCreateTestSchema(t, pool)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		require.NoError(t, storage.MigratePostgres(ctx, pool, schema))

		st, err := NewPostgresStore(pool, WithSchema(schema))
		require.NoError(t, err)
		return st
	}
}

func mustOpenTestPool(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		if shouldSkipIntegration(err) {
			t.Skipf("postgres unavailable: %v", err)
		}
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	require.NoError(t, err)
	schema := fmt.Sprintf("tally_test_%s", strings.ToLower(id))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ident := pgx.Identifier{schema}.Sanitize()
	_, err = pool.Exec(ctx, `CREATE SCHEMA `+ident)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+ident+` CASCADE`)
	})
	return schema
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
