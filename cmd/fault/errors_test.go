package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindsUnwrap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"op invalid", Invalid("ledger.Create", "amount is required"), IsInvalidInput},
		{"op unauthorized", Unauthorized("session.Refresh", "token mismatch"), IsUnauthorized},
		{"not found", NotFoundError{Op: "ledger.Get", Resource: "transaction", ID: "t1"}, IsNotFound},
		{"conflict", ConflictError{Op: "identity.CreateUser", Field: "email"}, IsConflict},
		{"wrapped", fmt.Errorf("outer: %w", NotFoundError{Op: "x"}), IsNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.True(t, tc.is(tc.err), "%v", tc.err)
		})
	}
}

func TestNotFoundMessageIncludesID(t *testing.T) {
	t.Parallel()

	err := NotFoundError{Op: "ledger.Delete", Resource: "transaction", ID: "01HZX"}
	assert.Contains(t, err.Error(), "01HZX")
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, "transaction 01HZX not found", PublicMessage(err))
}

func TestPublicMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "email already exists", PublicMessage(ConflictError{Op: "x", Field: "email"}))
	assert.Equal(t, "user with this email already exists",
		PublicMessage(ConflictError{Op: "x", Field: "email", Msg: "user with this email already exists"}))
	assert.Equal(t, "bad", PublicMessage(Invalid("op", "bad")))
	assert.Equal(t, "unauthorized", PublicMessage(OpError{Op: "op", Kind: ErrUnauthorized}))
	assert.Equal(t, "internal error", PublicMessage(errors.New("boom")))
}
