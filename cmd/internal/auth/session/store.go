package session

import (
	"context"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
)

// CredentialStore is the slice of identity.Store the session lifecycle needs.
type CredentialStore interface {
	GetUserByID(ctx context.Context, id string) (identity.User, error)
	GetUserByEmail(ctx context.Context, email string) (identity.User, error)

	// SetRefreshFingerprint overwrites the stored fingerprint (login).
	SetRefreshFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) error
	// SwapRefreshFingerprint replaces expected with next, failing when the stored value differs.
	SwapRefreshFingerprint(ctx context.Context, userID, expected, next string, now time.Time) error
	// ClearRefreshFingerprint is idempotent.
	ClearRefreshFingerprint(ctx context.Context, userID string, now time.Time) error
}

var _ CredentialStore = (identity.Store)(nil)
