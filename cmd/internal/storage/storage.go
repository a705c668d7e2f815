// Package storage holds the schema and driver helpers shared by the identity and ledger stores.
//
// Two backends are supported: PostgreSQL through pgx and an embedded sqlite file through
// modernc.org/sqlite. Both enforce the same relations, so a broken reference surfaces the
// same way regardless of backend.
package storage

import (
	_ "embed"
	"fmt"
	"strings"
)

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "tally"

//go:embed schema/postgres.sql
var postgresSchemaSQL string

//go:embed schema/sqlite.sql
var sqliteSchemaSQL string

// ParseBackend normalizes a backend name.
func ParseBackend(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", BackendMemory:
		return BackendMemory, nil
	case BackendPostgres, "postgresql", "pg":
		return BackendPostgres, nil
	case BackendSQLite, "sqlite3":
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("storage: unknown backend %q", s)
	}
}
