package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

// PostgresStore implements Store over PostgreSQL.
// Amounts travel as text and are cast to NUMERIC server-side, so no precision is lost.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a PostgresStore. An empty schema means storage.DefaultSchema.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("ledger: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = storage.DefaultSchema
	}
	if !storage.ValidSchema(schema) {
		return nil, fmt.Errorf("ledger: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

var _ Store = (*PostgresStore)(nil)

const pgTxColumns = `id, amount::text, description, category, occurred_at, group_id,
       created_by_id, updated_by_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t Transaction) (Transaction, error) {
	const op = "ledger.Create"

	out, err := scanPgTx(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (
		     id, amount, description, category, occurred_at, group_id,
		     created_by_id, updated_by_id, created_at, updated_at
		   ) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+pgTxColumns,
		t.ID, t.Amount.String(), t.Description, t.Category, t.Date, t.GroupID,
		t.CreatedByID, t.UpdatedByID, t.CreatedAt, t.UpdatedAt,
	))
	if err != nil {
		if storage.PgIsForeignKeyViolation(err) {
			return Transaction{}, brokenRelation(op)
		}
		if _, ok := storage.PgClassifyUniqueViolation(err); ok {
			return Transaction{}, fault.ConflictError{Op: op, Field: "id"}
		}
		return Transaction{}, err
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgTxColumns+` FROM `+s.table()+` ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		return scanPgTx(row)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Transaction{}
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	t, err := scanPgTx(s.pool.QueryRow(ctx,
		`SELECT `+pgTxColumns+` FROM `+s.table()+` WHERE id = $1`, id,
	))
	if err != nil {
		if storage.PgIsNoRows(err) {
			return Transaction{}, notFound("ledger.Get", id)
		}
		return Transaction{}, err
	}
	return t, nil
}

// Update builds the SET list from the present fields only, so concurrent patches to
// different fields both survive.
func (s *PostgresStore) Update(ctx context.Context, id string, p Patch, now time.Time) (Transaction, error) {
	const op = "ledger.Update"

	args := []any{id, p.updatedBy(), now.UTC()}
	set := []string{"updated_by_id = $2", "updated_at = $3"}
	for _, c := range p.columns() {
		v, cast := c.value, ""
		if d, ok := v.(decimal.Decimal); ok {
			v, cast = d.String(), "::numeric"
		}
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d%s", c.name, len(args), cast))
	}

	out, err := scanPgTx(s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET `+strings.Join(set, ", ")+`
		  WHERE id = $1
		RETURNING `+pgTxColumns,
		args...,
	))
	if err != nil {
		if storage.PgIsNoRows(err) {
			return Transaction{}, notFound(op, id)
		}
		if storage.PgIsForeignKeyViolation(err) {
			return Transaction{}, brokenRelation(op)
		}
		return Transaction{}, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (Transaction, error) {
	t, err := scanPgTx(s.pool.QueryRow(ctx,
		`DELETE FROM `+s.table()+` WHERE id = $1 RETURNING `+pgTxColumns, id,
	))
	if err != nil {
		if storage.PgIsNoRows(err) {
			return Transaction{}, notFound("ledger.Delete", id)
		}
		return Transaction{}, err
	}
	return t, nil
}

func (s *PostgresStore) table() string {
	return storage.Ident(s.schema, "transactions")
}

func scanPgTx(row pgx.Row) (Transaction, error) {
	var (
		t      Transaction
		amount string
	)
	if err := row.Scan(
		&t.ID,
		&amount,
		&t.Description,
		&t.Category,
		&t.Date,
		&t.GroupID,
		&t.CreatedByID,
		&t.UpdatedByID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return Transaction{}, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: decode amount %q: %w", amount, err)
	}
	t.Amount = d
	t.Date = t.Date.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
