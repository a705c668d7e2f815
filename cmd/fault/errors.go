package fault

import (
	"errors"
	"fmt"
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Msg is human readable and must never carry secrets.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness conflict on a logical field ("email", ...).
type ConflictError struct {
	Op    string
	Field string
	Msg   string
}

func (e ConflictError) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Msg)
	case e.Field != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
	default:
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row. Resource is a logical name ("transaction", "user").
type NotFoundError struct {
	Op       string
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	switch {
	case e.Resource != "" && e.ID != "":
		return fmt.Sprintf("%s: %s %s not found", e.Op, e.Resource, e.ID)
	case e.Resource != "":
		return fmt.Sprintf("%s: %s not found", e.Op, e.Resource)
	default:
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// Message returns the client-facing part of a NotFoundError.
func (e NotFoundError) Message() string {
	if e.Resource == "" {
		return "not found"
	}
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Invalid builds an ErrInvalidInput OpError.
func Invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// Unauthorized builds an ErrUnauthorized OpError.
func Unauthorized(op, msg string) error {
	return OpError{Op: op, Kind: ErrUnauthorized, Msg: msg}
}

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUnauthorized reports whether err represents ErrUnauthorized.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// PublicMessage extracts the message that is safe to show a client.
// It falls back to the kind name when err carries nothing specific.
func PublicMessage(err error) string {
	var nf NotFoundError
	if errors.As(err, &nf) {
		return nf.Message()
	}
	var ce ConflictError
	if errors.As(err, &ce) {
		if ce.Msg != "" {
			return ce.Msg
		}
		if ce.Field != "" {
			return ce.Field + " already exists"
		}
		return "conflict"
	}
	var oe OpError
	if errors.As(err, &oe) {
		if oe.Msg != "" {
			return oe.Msg
		}
		if oe.Kind != nil {
			return oe.Kind.Error()
		}
	}
	return "internal error"
}
