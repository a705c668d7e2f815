package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

// SQLiteStore implements Store over an embedded sqlite database.
// The *sql.DB comes from storage.OpenSQLite and is owned by the caller.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

const sqliteUserColumns = `id, name, email, password_hash, group_id, refresh_token_fp, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (User, error) {
	var (
		u         User
		groupID   sql.NullString
		fp        sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &groupID, &fp, &createdAt, &updatedAt); err != nil {
		return User{}, err
	}
	if groupID.Valid {
		u.GroupID = &groupID.String
	}
	if fp.Valid {
		u.RefreshFingerprint = &fp.String
	}
	u.CreatedAt = storage.FromUnixNano(createdAt)
	u.UpdatedAt = storage.FromUnixNano(updatedAt)
	return u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, group_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.GroupID, storage.UnixNano(now), storage.UnixNano(now),
	)
	if err != nil {
		if field, ok := storage.SQLiteClassifyUniqueViolation(err); ok && field == "email" {
			return User{}, emailConflict(op)
		}
		if storage.SQLiteIsForeignKeyViolation(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "group", ID: u.GroupIDValue()}
		}
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, strings.TrimSpace(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fault.NotFoundError{Op: "identity.GetUserByID", Resource: "user", ID: id}
		}
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, fault.NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

func (s *SQLiteStore) GetUserSummaries(ctx context.Context, ids []string) (map[string]UserSummary, error) {
	out := make(map[string]UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email FROM users WHERE id IN (`+placeholders+`)`, args...)
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

func (s *SQLiteStore) SetRefreshFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) error {
	const op = "identity.SetRefreshFingerprint"

	if strings.TrimSpace(fingerprint) == "" {
		return fault.Invalid(op, "missing fingerprint")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_fp = ?, updated_at = ? WHERE id = ?`,
		fingerprint, storage.UnixNano(nowOr(now)), userID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fault.NotFoundError{Op: op, Resource: "user", ID: userID}
	}
	return nil
}

func (s *SQLiteStore) SwapRefreshFingerprint(ctx context.Context, userID, expected, next string, now time.Time) error {
	const op = "identity.SwapRefreshFingerprint"

	if strings.TrimSpace(next) == "" {
		return fault.Invalid(op, "missing fingerprint")
	}
	if strings.TrimSpace(expected) == "" {
		return swapRejected(op)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_fp = ?, updated_at = ?
		  WHERE id = ? AND refresh_token_fp = ?`,
		next, storage.UnixNano(nowOr(now)), userID, expected,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return swapRejected(op)
	}
	return nil
}

func (s *SQLiteStore) ClearRefreshFingerprint(ctx context.Context, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_fp = NULL, updated_at = ?
		  WHERE id = ? AND refresh_token_fp IS NOT NULL`,
		storage.UnixNano(nowOr(now)), userID,
	)
	return err
}

func (s *SQLiteStore) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
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
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, storage.UnixNano(now),
	); err != nil {
		return Group{}, err
	}
	return Group{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (Group, error) {
	var (
		g         Group
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM groups WHERE id = ?`, strings.TrimSpace(id),
	).Scan(&g.ID, &g.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Group{}, fault.NotFoundError{Op: "identity.GetGroup", Resource: "group", ID: id}
		}
		return Group{}, err
	}
	g.CreatedAt = storage.FromUnixNano(createdAt)
	return g, nil
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g         Group
			createdAt int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt = storage.FromUnixNano(createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetUserGroup(ctx context.Context, userID, groupID string, now time.Time) (User, error) {
	const op = "identity.SetUserGroup"

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET group_id = ?, updated_at = ? WHERE id = ?`,
		groupID, storage.UnixNano(nowOr(now)), userID,
	)
	if err != nil {
		if storage.SQLiteIsForeignKeyViolation(err) {
			return User{}, fault.NotFoundError{Op: op, Resource: "group", ID: groupID}
		}
		return User{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return User{}, err
	} else if n == 0 {
		return User{}, fault.NotFoundError{Op: op, Resource: "user", ID: userID}
	}
	return s.GetUserByID(ctx, userID)
}
