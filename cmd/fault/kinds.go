// Package fault defines the error kinds shared by every tally component.
//
// Callers match on kinds with errors.Is; transports map kinds to status codes.
package fault

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	// ErrInvalidInput is the validation kind: malformed input or a broken relation.
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)
