package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
)

// MemoryStore is an in-process Store used by tests and the "memory" backend.
// It applies the same uniqueness and relation rules as the SQL stores.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	byEmail map[string]string
	groups  map[string]Group
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		groups:  make(map[string]Group),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := validateCreateUser(op, in); err != nil {
		return User{}, err
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}
	email := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return User{}, emailConflict(op)
	}
	groupID := trimPtr(in.GroupID)
	if groupID != nil {
		if _, ok := s.groups[*groupID]; !ok {
			return User{}, fault.NotFoundError{Op: op, Resource: "group", ID: *groupID}
		}
	}

	u := User{
		ID:           id,
		Name:         NormalizeName(in.Name),
		Email:        email,
		PasswordHash: in.PasswordHash,
		GroupID:      groupID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[id] = u
	s.byEmail[email] = id
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[strings.TrimSpace(id)]
	if !ok {
		return User{}, fault.NotFoundError{Op: "identity.GetUserByID", Resource: "user", ID: id}
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, fault.NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return cloneUser(s.users[id]), nil
}

func (s *MemoryStore) GetUserSummaries(ctx context.Context, ids []string) (map[string]UserSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]UserSummary, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.Summary()
		}
	}
	return out, nil
}

func (s *MemoryStore) SetRefreshFingerprint(ctx context.Context, userID, fingerprint string, now time.Time) error {
	const op = "identity.SetRefreshFingerprint"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(fingerprint) == "" {
		return fault.Invalid(op, "missing fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fault.NotFoundError{Op: op, Resource: "user", ID: userID}
	}
	fp := fingerprint
	u.RefreshFingerprint = &fp
	u.UpdatedAt = nowOr(now)
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) SwapRefreshFingerprint(ctx context.Context, userID, expected, next string, now time.Time) error {
	const op = "identity.SwapRefreshFingerprint"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(next) == "" {
		return fault.Invalid(op, "missing fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.RefreshFingerprint == nil || *u.RefreshFingerprint != expected {
		return swapRejected(op)
	}
	fp := next
	u.RefreshFingerprint = &fp
	u.UpdatedAt = nowOr(now)
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) ClearRefreshFingerprint(ctx context.Context, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.RefreshFingerprint == nil {
		return nil
	}
	u.RefreshFingerprint = nil
	u.UpdatedAt = nowOr(now)
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	const op = "identity.CreateGroup"

	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	name := NormalizeName(in.Name)
	if name == "" {
		return Group{}, fault.Invalid(op, "name is required")
	}
	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Group{}, err
	}

	g := Group{ID: id, Name: name, CreatedAt: now}

	s.mu.Lock()
	s.groups[id] = g
	s.mu.Unlock()
	return g, nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, id string) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[strings.TrimSpace(id)]
	if !ok {
		return Group{}, fault.NotFoundError{Op: "identity.GetGroup", Resource: "group", ID: id}
	}
	return g, nil
}

func (s *MemoryStore) ListGroups(ctx context.Context) ([]Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetUserGroup(ctx context.Context, userID, groupID string, now time.Time) (User, error) {
	const op = "identity.SetUserGroup"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return User{}, fault.NotFoundError{Op: op, Resource: "user", ID: userID}
	}
	if _, ok := s.groups[groupID]; !ok {
		return User{}, fault.NotFoundError{Op: op, Resource: "group", ID: groupID}
	}
	gid := groupID
	u.GroupID = &gid
	u.UpdatedAt = nowOr(now)
	s.users[userID] = u
	return cloneUser(u), nil
}

// UserExists reports whether id names a stored user. The in-memory ledger uses it for relation checks.
func (s *MemoryStore) UserExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

// GroupExists reports whether id names a stored group.
func (s *MemoryStore) GroupExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[id]
	return ok, nil
}

func cloneUser(u User) User {
	if u.GroupID != nil {
		g := *u.GroupID
		u.GroupID = &g
	}
	if u.RefreshFingerprint != nil {
		fp := *u.RefreshFingerprint
		u.RefreshFingerprint = &fp
	}
	return u
}
