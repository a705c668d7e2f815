package ledger

import (
	"context"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
)

// Store persists transactions.
//
// Error contract:
//   - a missing row returns fault.NotFoundError{Resource: "transaction"}
//   - a reference to an unknown user or group returns fault.ErrInvalidInput
type Store interface {
	Create(ctx context.Context, t Transaction) (Transaction, error)
	// List returns every transaction, newest first (created_at, then id).
	List(ctx context.Context) ([]Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	// Update writes only the fields present in p, plus updated_by_id and updated_at,
	// as one atomic statement, and returns the resulting row.
	Update(ctx context.Context, id string, p Patch, now time.Time) (Transaction, error)
	// Delete removes the row and returns its last state.
	Delete(ctx context.Context, id string) (Transaction, error)
}

func notFound(op, id string) error {
	return fault.NotFoundError{Op: op, Resource: "transaction", ID: id}
}

func brokenRelation(op string) error {
	return fault.Invalid(op, "unknown user or group")
}
