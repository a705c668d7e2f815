package realtime

import "context"

// Authenticator verifies an access token and returns the user it was issued to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// MembershipChecker defines the authorization boundary for channel joins.
type MembershipChecker interface {
	// IsMember returns true if userID belongs to groupID.
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
}
