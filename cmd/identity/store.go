package identity

import (
	"context"
	"time"
)

// User is tally's security principal.
// PasswordHash and RefreshFingerprint never leave the server; use Summary or Public for output.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	GroupID      *string

	// RefreshFingerprint is the storage form of the one live refresh token, nil when logged out.
	RefreshFingerprint *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserSummary is the public projection attached to transactions.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PublicUser is the client-facing user view.
type PublicUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	GroupID   *string   `json:"group_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary projects u to its public summary.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Public strips credentials from u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		GroupID:   u.GroupID,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// GroupIDValue returns the group id or "" when the user has none.
func (u User) GroupIDValue() string {
	if u.GroupID == nil {
		return ""
	}
	return *u.GroupID
}

// Group is a named set of users sharing one ledger channel. Names are not unique.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserInput describes a new user. The password is already hashed.
type CreateUserInput struct {
	Name         string
	Email        string
	PasswordHash string
	GroupID      *string
	Now          time.Time
}

// CreateGroupInput describes a new group.
type CreateGroupInput struct {
	Name string
	Now  time.Time
}

// Store is the identity persistence boundary.
//
// Error contract (see package fault):
//   - missing rows return fault.NotFoundError
//   - a duplicate email returns fault.ConflictError{Field: "email"}
//   - a reference to a missing group returns fault.ErrNotFound
//   - a failed fingerprint swap returns fault.ErrUnauthorized
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// GetUserSummaries resolves ids to summaries; unknown ids are omitted from the map.
	GetUserSummaries(ctx context.Context, ids []string) (map[string]UserSummary, error)

	// SetRefreshFingerprint overwrites the stored fingerprint (login).
	SetRefreshFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) error

	// SwapRefreshFingerprint replaces expected with next atomically (rotation).
	// It fails with fault.ErrUnauthorized when the stored value is not expected.
	SwapRefreshFingerprint(ctx context.Context, userID, expected, next string, now time.Time) error

	// ClearRefreshFingerprint sets the fingerprint to null. Idempotent, including for unknown users.
	ClearRefreshFingerprint(ctx context.Context, userID string, now time.Time) error

	CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)

	// SetUserGroup moves a user into a group and returns the updated user.
	SetUserGroup(ctx context.Context, userID, groupID string, now time.Time) (User, error)
}
