package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
)

const (
	maxNameLen  = 120
	maxEmailLen = 254
)

func validateCreateUser(op string, in CreateUserInput) error {
	name := NormalizeName(in.Name)
	if name == "" {
		return fault.Invalid(op, "name is required")
	}
	if len(name) > maxNameLen {
		return fault.Invalid(op, "name too long")
	}
	email := NormalizeEmail(in.Email)
	if email == "" {
		return fault.Invalid(op, "email is required")
	}
	if len(email) > maxEmailLen {
		return fault.Invalid(op, "email too long")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fault.Invalid(op, "email is invalid")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return fault.Invalid(op, "password hash is required")
	}
	return nil
}

func emailConflict(op string) error {
	return fault.ConflictError{Op: op, Field: "email", Msg: "user with this email already exists"}
}

// swapRejected hides why a rotation failed: missing user, no session and mismatch look the same.
func swapRejected(op string) error {
	return fault.Unauthorized(op, "refresh token is not active")
}

func nowOr(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}

// trimPtr trims a string pointer, returning nil if the result is empty.
func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}
