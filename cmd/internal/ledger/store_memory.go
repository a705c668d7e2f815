package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
)

// Relations answers the foreign-key questions a SQL schema would.
// identity.MemoryStore implements it.
type Relations interface {
	UserExists(ctx context.Context, id string) (bool, error)
	GroupExists(ctx context.Context, id string) (bool, error)
}

// MemoryStore is an in-process Store. With nil Relations every reference is accepted.
type MemoryStore struct {
	rel Relations

	mu   sync.RWMutex
	rows map[string]Transaction
}

// NewMemoryStore returns an empty store that checks references against rel.
func NewMemoryStore(rel Relations) *MemoryStore {
	return &MemoryStore{rel: rel, rows: make(map[string]Transaction)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, t Transaction) (Transaction, error) {
	const op = "ledger.Create"

	if err := s.checkRefs(ctx, op, t.GroupID, t.CreatedByID, t.UpdatedByID); err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[t.ID]; exists {
		return Transaction{}, fault.ConflictError{Op: op, Field: "id"}
	}
	s.rows[t.ID] = cloneTx(t)
	return cloneTx(t), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Transaction, 0, len(s.rows))
	for _, t := range s.rows {
		out = append(out, cloneTx(t))
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.rows[id]
	if !ok {
		return Transaction{}, notFound("ledger.Get", id)
	}
	return cloneTx(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, p Patch, now time.Time) (Transaction, error) {
	const op = "ledger.Update"

	if err := s.checkRefs(ctx, op, "", "", p.updatedBy()); err != nil {
		return Transaction{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rows[id]
	if !ok {
		return Transaction{}, notFound(op, id)
	}
	cur = p.Apply(cur, now.UTC())
	s.rows[id] = cur
	return cloneTx(cur), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.rows[id]
	if !ok {
		return Transaction{}, notFound("ledger.Delete", id)
	}
	delete(s.rows, id)
	return t, nil
}

func (s *MemoryStore) checkRefs(ctx context.Context, op, groupID, createdBy string, updatedBy *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.rel == nil {
		return nil
	}
	if groupID != "" {
		ok, err := s.rel.GroupExists(ctx, groupID)
		if err != nil {
			return err
		}
		if !ok {
			return brokenRelation(op)
		}
	}
	users := make([]string, 0, 2)
	if createdBy != "" {
		users = append(users, createdBy)
	}
	if updatedBy != nil && *updatedBy != "" {
		users = append(users, *updatedBy)
	}
	for _, id := range users {
		ok, err := s.rel.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return brokenRelation(op)
		}
	}
	return nil
}

func sortNewestFirst(ts []Transaction) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].ID > ts[j].ID
	})
}

func cloneTx(t Transaction) Transaction {
	if t.UpdatedByID != nil {
		v := *t.UpdatedByID
		t.UpdatedByID = &v
	}
	t.CreatedBy = nil
	t.UpdatedBy = nil
	return t
}
