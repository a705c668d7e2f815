package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/security/password"
)

// DefaultGroupNames are created by the seed-groups command.
var DefaultGroupNames = []string{"Family Finances", "Project Budget", "Travel Expenses"}

// GroupJoiner is notified when a user moves into a group so live connections can follow.
type GroupJoiner interface {
	JoinUser(userID, groupID string)
}

// Service implements registration and group membership on top of a Store.
type Service struct {
	store     Store
	passwords password.Config
	joiner    GroupJoiner
	log       *slog.Logger
	now       func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithGroupJoiner wires a realtime hub (or any joiner) into JoinGroup.
func WithGroupJoiner(j GroupJoiner) ServiceOption {
	return func(s *Service) { s.joiner = j }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service.
func NewService(store Store, passwords password.Config, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: nil store")
	}
	s := &Service{
		store:     store,
		passwords: passwords,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Store exposes the underlying store to the session layer.
func (s *Service) Store() Store { return s.store }

// RegisterInput is a new-user request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	GroupID  *string
}

// Register hashes the password and creates the user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return User{}, fault.Invalid(op, err.Error())
		default:
			return User{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	u, err := s.store.CreateUser(ctx, CreateUserInput{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		GroupID:      in.GroupID,
		Now:          s.now(),
	})
	if err != nil {
		return User{}, err
	}

	s.log.Info("identity.user.registered", "user_id", u.ID, "has_group", u.GroupID != nil)
	return u, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetUserByID(ctx, id)
}

// CreateGroup creates a named group.
func (s *Service) CreateGroup(ctx context.Context, name string) (Group, error) {
	g, err := s.store.CreateGroup(ctx, CreateGroupInput{Name: name, Now: s.now()})
	if err != nil {
		return Group{}, err
	}
	s.log.Info("identity.group.created", "group_id", g.ID)
	return g, nil
}

// GetGroup loads a group by id.
func (s *Service) GetGroup(ctx context.Context, id string) (Group, error) {
	return s.store.GetGroup(ctx, id)
}

// JoinGroup moves userID into groupID. Both must exist.
func (s *Service) JoinGroup(ctx context.Context, userID, groupID string) (User, error) {
	const op = "identity.JoinGroup"

	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return User{}, fault.Invalid(op, "user_id and group_id are required")
	}

	// Report a missing user before a missing group, whichever the store trips on first.
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return User{}, err
	}
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return User{}, err
	}

	u, err := s.store.SetUserGroup(ctx, userID, groupID, s.now())
	if err != nil {
		return User{}, err
	}
	if s.joiner != nil {
		s.joiner.JoinUser(u.ID, groupID)
	}
	s.log.Info("identity.group.joined", "user_id", u.ID, "group_id", groupID)
	return u, nil
}

// IsMember reports whether userID currently belongs to groupID. Unknown users are not members.
func (s *Service) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return false, nil
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if fault.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return u.GroupIDValue() == groupID, nil
}

// SeedDefaultGroups creates any DefaultGroupNames that do not exist yet (matched by name).
func (s *Service) SeedDefaultGroups(ctx context.Context) ([]Group, error) {
	existing, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, g := range existing {
		have[g.Name] = true
	}

	var created []Group
	for _, name := range DefaultGroupNames {
		if have[name] {
			continue
		}
		g, err := s.CreateGroup(ctx, name)
		if err != nil {
			return created, err
		}
		created = append(created, g)
	}
	return created, nil
}
