package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

// Publisher fans an event out to a group channel. It must not block on slow receivers.
type Publisher interface {
	Publish(groupID, event string, payload any)
}

// UserDirectory resolves creator/updater summaries at read time.
type UserDirectory interface {
	GetUserSummaries(ctx context.Context, ids []string) (map[string]identity.UserSummary, error)
}

// Service is the Transaction Coordinator.
type Service struct {
	store Store
	users UserDirectory
	pub   Publisher
	log   *slog.Logger
	now   func() time.Time
	newID func(time.Time) (string, error)
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the coordinator. users and pub may be nil (no summaries / no fan-out).
func NewService(store Store, users UserDirectory, pub Publisher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: nil store")
	}
	s := &Service{
		store: store,
		users: users,
		pub:   pub,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: identity.NewULID,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Create persists a transaction owned by userID and announces it on its group.
func (s *Service) Create(ctx context.Context, userID string, in NewTransaction) (Transaction, error) {
	const op = "ledger.Create"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Transaction{}, fault.Invalid(op, "user id is required")
	}
	if err := in.validate(op); err != nil {
		return Transaction{}, err
	}

	now := s.now().UTC()
	id, err := s.newID(now)
	if err != nil {
		return Transaction{}, err
	}
	date := now
	if in.Date != nil {
		date = in.Date.UTC()
	}

	t, err := s.store.Create(ctx, Transaction{
		ID:          id,
		Amount:      *in.Amount,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Date:        date,
		GroupID:     strings.TrimSpace(in.GroupID),
		CreatedByID: userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Transaction{}, err
	}

	t = s.withSummary(ctx, t)
	s.publish(t.GroupID, v1.TypeTransactionCreated, t)
	return t, nil
}

// List returns every transaction, newest first, with creator/updater summaries.
func (s *Service) List(ctx context.Context) ([]Transaction, error) {
	ts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.attachSummaries(ctx, ts)
}

// GetByID returns one transaction with summaries.
func (s *Service) GetByID(ctx context.Context, id string) (Transaction, error) {
	t, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Transaction{}, err
	}
	out, err := s.attachSummaries(ctx, []Transaction{t})
	if err != nil {
		return Transaction{}, err
	}
	return out[0], nil
}

// Update merge-patches a transaction and announces it on the transaction's own group.
// The merge happens in the store, so absent fields are never written back.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Transaction, error) {
	const op = "ledger.Update"

	if err := p.validate(op); err != nil {
		return Transaction{}, err
	}

	t, err := s.store.Update(ctx, strings.TrimSpace(id), p, s.now().UTC())
	if err != nil {
		return Transaction{}, err
	}

	t = s.withSummary(ctx, t)
	s.publish(t.GroupID, v1.TypeTransactionUpdated, t)
	return t, nil
}

// Delete removes a transaction and announces the snapshot on groupID.
// An empty groupID falls back to the group stored on the record.
func (s *Service) Delete(ctx context.Context, id, userID, groupID string) (Transaction, error) {
	id = strings.TrimSpace(id)

	if _, err := s.store.Get(ctx, id); err != nil {
		return Transaction{}, err
	}
	t, err := s.store.Delete(ctx, id)
	if err != nil {
		return Transaction{}, err
	}

	channel := strings.TrimSpace(groupID)
	if channel == "" {
		channel = t.GroupID
	} else if channel != t.GroupID {
		s.log.Warn("ledger.delete.group_mismatch",
			"transaction_id", t.ID,
			"stored_group_id", t.GroupID,
			"requested_group_id", channel,
		)
	}

	t = s.withSummary(ctx, t)
	s.log.Info("ledger.transaction.deleted", "transaction_id", t.ID, "user_id", userID, "group_id", channel)
	s.publish(channel, v1.TypeTransactionDeleted, t)
	return t, nil
}

func (s *Service) publish(groupID, event string, t Transaction) {
	if s.pub == nil || groupID == "" {
		return
	}
	s.pub.Publish(groupID, event, t)
	s.log.Debug("ledger.publish", "event", event, "group_id", groupID, "transaction_id", t.ID)
}

// withSummary is the mutation-path variant: a lookup failure only costs the summaries.
func (s *Service) withSummary(ctx context.Context, t Transaction) Transaction {
	out, err := s.attachSummaries(ctx, []Transaction{t})
	if err != nil {
		s.log.Warn("ledger.summaries.fail", "transaction_id", t.ID, "err", err)
		return t
	}
	return out[0]
}

func (s *Service) attachSummaries(ctx context.Context, ts []Transaction) ([]Transaction, error) {
	if s.users == nil || len(ts) == 0 {
		return ts, nil
	}

	seen := make(map[string]struct{}, len(ts))
	ids := make([]string, 0, len(ts))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, t := range ts {
		add(t.CreatedByID)
		if t.UpdatedByID != nil {
			add(*t.UpdatedByID)
		}
	}

	summaries, err := s.users.GetUserSummaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: user summaries: %w", err)
	}

	for i := range ts {
		if us, ok := summaries[ts[i].CreatedByID]; ok {
			ts[i].CreatedBy = &us
		}
		if ts[i].UpdatedByID != nil {
			if us, ok := summaries[*ts[i].UpdatedByID]; ok {
				ts[i].UpdatedBy = &us
			}
		}
	}
	return ts, nil
}
