package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// OpenSQLite opens (or creates) a sqlite database at path and applies the schema.
//
// The pool is pinned to one connection: sqlite has a single writer, and the
// per-connection pragmas below must hold for every statement.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage: empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// SQLiteIsForeignKeyViolation reports a FOREIGN KEY constraint failure.
func SQLiteIsForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	// Primary result code only when extended codes are off.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(se.Error(), "FOREIGN KEY constraint failed")
}

// SQLiteClassifyUniqueViolation maps a UNIQUE/PRIMARY KEY failure to a logical field name.
func SQLiteClassifyUniqueViolation(err error) (field string, ok bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return "", false
	}
	msg := strings.ToLower(se.Error())
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
	case sqlite3.SQLITE_CONSTRAINT:
		if !strings.Contains(msg, "unique constraint failed") {
			return "", false
		}
	default:
		return "", false
	}

	switch {
	case strings.Contains(msg, ".email"):
		return "email", true
	case strings.Contains(msg, ".id"):
		return "id", true
	default:
		return "unique", true
	}
}

// UnixNano converts t for an INTEGER timestamp column.
func UnixNano(t time.Time) int64 { return t.UTC().UnixNano() }

// FromUnixNano is the inverse of UnixNano.
func FromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
