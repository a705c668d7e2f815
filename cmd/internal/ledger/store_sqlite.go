package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

// SQLiteStore implements Store over an embedded sqlite database.
// Amounts are stored as decimal text; timestamps as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db (see storage.OpenSQLite).
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

const sqliteTxColumns = `id, amount, description, category, occurred_at, group_id,
       created_by_id, updated_by_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTx(row rowScanner) (Transaction, error) {
	var (
		t          Transaction
		amount     decimal.Decimal
		updatedBy  sql.NullString
		occurredAt int64
		createdAt  int64
		updatedAt  int64
	)
	if err := row.Scan(
		&t.ID, &amount, &t.Description, &t.Category, &occurredAt, &t.GroupID,
		&t.CreatedByID, &updatedBy, &createdAt, &updatedAt,
	); err != nil {
		return Transaction{}, err
	}
	t.Amount = amount
	if updatedBy.Valid {
		t.UpdatedByID = &updatedBy.String
	}
	t.Date = storage.FromUnixNano(occurredAt)
	t.CreatedAt = storage.FromUnixNano(createdAt)
	t.UpdatedAt = storage.FromUnixNano(updatedAt)
	return t, nil
}

func (s *SQLiteStore) Create(ctx context.Context, t Transaction) (Transaction, error) {
	const op = "ledger.Create"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (
		     id, amount, description, category, occurred_at, group_id,
		     created_by_id, updated_by_id, created_at, updated_at
		   ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Amount.String(), t.Description, t.Category, storage.UnixNano(t.Date), t.GroupID,
		t.CreatedByID, t.UpdatedByID, storage.UnixNano(t.CreatedAt), storage.UnixNano(t.UpdatedAt),
	)
	if err != nil {
		if storage.SQLiteIsForeignKeyViolation(err) {
			return Transaction{}, brokenRelation(op)
		}
		if _, ok := storage.SQLiteClassifyUniqueViolation(err); ok {
			return Transaction{}, fault.ConflictError{Op: op, Field: "id"}
		}
		return Transaction{}, err
	}
	return s.Get(ctx, t.ID)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTxColumns+` FROM transactions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		t, err := scanSQLiteTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Transaction, error) {
	t, err := scanSQLiteTx(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTxColumns+` FROM transactions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, notFound("ledger.Get", id)
		}
		return Transaction{}, err
	}
	return t, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch, now time.Time) (Transaction, error) {
	const op = "ledger.Update"

	set := []string{"updated_by_id = ?", "updated_at = ?"}
	args := []any{p.updatedBy(), storage.UnixNano(now)}
	for _, c := range p.columns() {
		v := c.value
		switch x := v.(type) {
		case decimal.Decimal:
			v = x.String()
		case time.Time:
			v = storage.UnixNano(x)
		}
		set = append(set, c.name+" = ?")
		args = append(args, v)
	}
	args = append(args, id)

	t, err := scanSQLiteTx(s.db.QueryRowContext(ctx,
		`UPDATE transactions SET `+strings.Join(set, ", ")+`
		  WHERE id = ?
		RETURNING `+sqliteTxColumns,
		args...,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, notFound(op, id)
		}
		if storage.SQLiteIsForeignKeyViolation(err) {
			return Transaction{}, brokenRelation(op)
		}
		return Transaction{}, err
	}
	return t, nil
}

// Delete reads then deletes inside one transaction so the snapshot matches the removed row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (Transaction, error) {
	const op = "ledger.Delete"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanSQLiteTx(tx.QueryRowContext(ctx,
		`SELECT `+sqliteTxColumns+` FROM transactions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, notFound(op, id)
		}
		return Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}
