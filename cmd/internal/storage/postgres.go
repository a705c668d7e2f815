package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether s is a safe, unquoted PostgreSQL identifier.
func ValidSchema(s string) bool {
	return pgIdentRe.MatchString(s)
}

// Ident safely quotes a schema-qualified identifier: "schema"."name".
func Ident(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// PostgresSchemaSQL renders the embedded schema for the given Postgres schema name.
func PostgresSchemaSQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !ValidSchema(schema) {
		return "", fmt.Errorf("storage: invalid schema identifier %q", schema)
	}
	return strings.ReplaceAll(postgresSchemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// MigratePostgres applies the schema. Every statement is idempotent.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("storage: nil pool")
	}
	ddl, err := PostgresSchemaSQL(schema)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("storage: migrate postgres: %w", err)
	}
	return nil
}

// PgIsNoRows reports pgx.ErrNoRows.
func PgIsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

// PgIsForeignKeyViolation reports SQLSTATE 23503.
func PgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

// PgClassifyUniqueViolation maps SQLSTATE 23505 to a logical field name.
func PgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email", strings.Contains(c, "email"):
		return "email", true
	case strings.HasSuffix(c, "_pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
