package identity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Table identifiers are schema-qualified and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema used by the store (default "tally").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !storage.ValidSchema(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: storage.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const pgUserColumns = `id, name, email, password_hash, group_id, refresh_token_fp, created_at, updated_at`

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := validateCreateUser(op, in); err != nil {
		return User{}, err
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Name:         NormalizeName(in.Name),
		Email:        NormalizeEmail(in.Email),
		PasswordHash: in.PasswordHash,
		GroupID:      trimPtr(in.GroupID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("users")+` (
		     id, name, email, password_hash, group_id, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.GroupID, now,
	)
	if err != nil {
		if field, ok := storage.PgClassifyUniqueViolation(err); ok && field == "email" {
			return User{}, emailConflict(op)
		}
		if storage.PgIsForeignKeyViolation(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "group", ID: u.GroupIDValue()}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+s.table("users")+` WHERE id = $1`,
		strings.TrimSpace(id),
	))
	if err != nil {
		if storage.PgIsNoRows(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "user", ID: id}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+pgUserColumns+` FROM `+s.table("users")+` WHERE email = $1`,
		NormalizeEmail(email),
	))
	if err != nil {
		if storage.PgIsNoRows(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserSummaries(ctx context.Context, ids []string) (map[string]UserSummary, error) {
	out := make(map[string]UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email FROM `+s.table("users")+` WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var us UserSummary
		if err := rows.Scan(&us.ID, &us.Name, &us.Email); err != nil {
			return nil, err
		}
		out[us.ID] = us
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetRefreshFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) error {
	const op = "identity.SetRefreshFingerprint"

	if strings.TrimSpace(fingerprint) == "" {
		return fault.Invalid(op, "missing fingerprint")
	}
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("users")+`
		    SET refresh_token_fp = $1, updated_at = $2
		  WHERE id = $3`,
		fingerprint, nowOr(now), userID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fault.NotFoundError{Op: op, Resource: "user", ID: userID}
	}
	return nil
}

// SwapRefreshFingerprint is a single conditional UPDATE, so concurrent rotations of the
// same token serialize on the row and only the first one matches.
func (s *PostgresStore) SwapRefreshFingerprint(ctx context.Context, userID, expected, next string, now time.Time) error {
	const op = "identity.SwapRefreshFingerprint"

	if strings.TrimSpace(next) == "" {
		return fault.Invalid(op, "missing fingerprint")
	}
	if strings.TrimSpace(expected) == "" {
		return swapRejected(op)
	}
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("users")+`
		    SET refresh_token_fp = $1, updated_at = $2
		  WHERE id = $3
		    AND refresh_token_fp = $4`,
		next, nowOr(now), userID, expected,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return swapRejected(op)
	}
	return nil
}

func (s *PostgresStore) ClearRefreshFingerprint(ctx context.Context, userID string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("users")+`
		    SET refresh_token_fp = NULL, updated_at = $1
		  WHERE id = $2
		    AND refresh_token_fp IS NOT NULL`,
		nowOr(now), userID,
	)
	return err
}

func (s *PostgresStore) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	const op = "identity.CreateGroup"

	name := NormalizeName(in.Name)
	if name == "" {
		return Group{}, fault.Invalid(op, "name is required")
	}
	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Group{}, err
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("groups")+` (id, name, created_at) VALUES ($1, $2, $3)`,
		id, name, now,
	); err != nil {
		return Group{}, err
	}
	return Group{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM `+s.table("groups")+` WHERE id = $1`,
		strings.TrimSpace(id),
	).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err != nil {
		if storage.PgIsNoRows(err) {
			return Group{}, fault.NotFoundError{Op: "identity.GetGroup", Resource: "group", ID: id}
		}
		return Group{}, err
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM `+s.table("groups")+` ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Group, error) {
		var g Group
		err := row.Scan(&g.ID, &g.Name, &g.CreatedAt)
		g.CreatedAt = g.CreatedAt.UTC()
		return g, err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (s *PostgresStore) SetUserGroup(ctx context.Context, userID, groupID string, now time.Time) (User, error) {
	const op = "identity.SetUserGroup"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE `+s.table("users")+`
		    SET group_id = $1, updated_at = $2
		  WHERE id = $3
		RETURNING `+pgUserColumns,
		groupID, nowOr(now), userID,
	))
	if err != nil {
		if storage.PgIsNoRows(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "user", ID: userID}
		}
		if storage.PgIsForeignKeyViolation(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "group", ID: groupID}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) table(name string) string {
	return storage.Ident(s.schema, name)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.GroupID,
		&u.RefreshFingerprint,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
