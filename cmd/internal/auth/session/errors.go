package session

import "errors"

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid session config")

// Public messages for Unauthorized failures. They never say which check failed.
const (
	msgBadCredentials = "invalid email or password"
	msgBadRefresh     = "invalid refresh token"
	msgBadAccess      = "invalid or expired access token"
)
