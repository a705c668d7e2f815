package ledger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	v1 "github.com/akinsuyitaiwo/financial-management-system/shared/contracts/realtime/v1"
)

type published struct {
	group   string
	event   string
	payload Transaction
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(groupID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, _ := payload.(Transaction)
	p.events = append(p.events, published{group: groupID, event: event, payload: t})
}

func (p *recordingPublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

type serviceFixture struct {
	svc   *Service
	pub   *recordingPublisher
	users *identity.MemoryStore
	user  identity.User
	group identity.Group
	other identity.Group
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	ctx := context.Background()

	users := identity.NewMemoryStore()
	g, err := users.CreateGroup(ctx, identity.CreateGroupInput{Name: "Family Finances"})
	require.NoError(t, err)
	other, err := users.CreateGroup(ctx, identity.CreateGroupInput{Name: "Travel Expenses"})
	require.NoError(t, err)
	gid := g.ID
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Name:         "Ada",
		Email:        "ada@example.com",
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderpla",
		GroupID:      &gid,
	})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(NewMemoryStore(users), users, pub,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	)
	require.NoError(t, err)

	return serviceFixture{svc: svc, pub: pub, users: users, user: u, group: g, other: other}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestService_CreatePublishesOnGroupOnly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tx, err := f.svc.Create(ctx, f.user.ID, NewTransaction{
		Amount:      amount("42.00"),
		Description: " dinner ",
		Category:    "expense",
		GroupID:     f.group.ID,
	})
	require.NoError(t, err)
	assert.Len(t, tx.ID, 26)
	assert.Equal(t, "dinner", tx.Description)
	assert.Equal(t, f.user.ID, tx.CreatedByID)
	assert.Equal(t, tx.CreatedAt, tx.Date)
	require.NotNil(t, tx.CreatedBy)
	assert.Equal(t, identity.UserSummary{ID: f.user.ID, Name: "Ada", Email: "ada@example.com"}, *tx.CreatedBy)

	events := f.pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, f.group.ID, events[0].group)
	assert.Equal(t, v1.TypeTransactionCreated, events[0].event)
	assert.Equal(t, tx.ID, events[0].payload.ID)
	require.NotNil(t, events[0].payload.CreatedBy)

	for _, e := range events {
		assert.NotEqual(t, f.other.ID, e.group)
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := map[string]struct {
		userID string
		in     NewTransaction
	}{
		"missing user":     {"", NewTransaction{Amount: amount("1"), Category: "x", GroupID: f.group.ID}},
		"missing amount":   {f.user.ID, NewTransaction{Category: "x", GroupID: f.group.ID}},
		"missing category": {f.user.ID, NewTransaction{Amount: amount("1"), GroupID: f.group.ID}},
		"missing group":    {f.user.ID, NewTransaction{Amount: amount("1"), Category: "x"}},
		"unknown group":    {f.user.ID, NewTransaction{Amount: amount("1"), Category: "x", GroupID: "nope"}},
		"unknown user":     {"ghost", NewTransaction{Amount: amount("1"), Category: "x", GroupID: f.group.ID}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.userID, tc.in)
			require.Error(t, err)
			assert.True(t, fault.IsInvalidInput(err), "got %v", err)
		})
	}
	assert.Empty(t, f.pub.snapshot())
}

func TestService_UpdateMergePatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.user.ID, NewTransaction{
		Amount: amount("10"), Description: "taxi", Category: "expense", GroupID: f.group.ID,
	})
	require.NoError(t, err)

	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.75"}`), &p))
	p.UpdatedBy = f.user.ID

	updated, err := f.svc.Update(ctx, created.ID, p)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.75").Equal(updated.Amount))
	assert.Equal(t, "taxi", updated.Description)
	assert.Equal(t, "expense", updated.Category)
	assert.True(t, created.Date.Equal(updated.Date))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, f.user.ID, updated.UpdatedBy.ID)

	events := f.pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, v1.TypeTransactionUpdated, events[1].event)
	assert.Equal(t, f.group.ID, events[1].group)

	_, err = f.svc.Update(ctx, "missing", Patch{Category: Some("x")})
	assert.True(t, fault.IsNotFound(err))

	_, err = f.svc.Update(ctx, created.ID, Patch{Category: Some("  ")})
	assert.True(t, fault.IsInvalidInput(err))
	assert.Len(t, f.pub.snapshot(), 2)
}

func TestService_GetByIDNotFoundMessage(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.GetByID(context.Background(), "01MISSING")
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
	assert.Contains(t, fault.PublicMessage(err), "01MISSING")
}

func TestService_ListAttachesSummaries(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, c := range []string{"a", "b"} {
		_, err := f.svc.Create(ctx, f.user.ID, NewTransaction{Amount: amount("1"), Category: c, GroupID: f.group.ID})
		require.NoError(t, err)
	}

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Category)
	for _, tx := range all {
		require.NotNil(t, tx.CreatedBy)
		assert.Equal(t, "Ada", tx.CreatedBy.Name)
		assert.Nil(t, tx.UpdatedBy)
	}
}

func TestService_Delete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.user.ID, NewTransaction{
		Amount: amount("5"), Category: "expense", GroupID: f.group.ID,
	})
	require.NoError(t, err)

	t.Run("missing publishes nothing", func(t *testing.T) {
		_, err := f.svc.Delete(ctx, "missing", f.user.ID, f.group.ID)
		assert.True(t, fault.IsNotFound(err))
		assert.Len(t, f.pub.snapshot(), 1)
	})

	t.Run("publishes snapshot on supplied group", func(t *testing.T) {
		snap, err := f.svc.Delete(ctx, created.ID, f.user.ID, f.group.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, snap.ID)

		events := f.pub.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, v1.TypeTransactionDeleted, events[1].event)
		assert.Equal(t, f.group.ID, events[1].group)
		assert.Equal(t, created.ID, events[1].payload.ID)

		_, err = f.svc.GetByID(ctx, created.ID)
		assert.True(t, fault.IsNotFound(err))
	})

	t.Run("empty group falls back to stored group", func(t *testing.T) {
		again, err := f.svc.Create(ctx, f.user.ID, NewTransaction{
			Amount: amount("5"), Category: "expense", GroupID: f.group.ID,
		})
		require.NoError(t, err)

		_, err = f.svc.Delete(ctx, again.ID, f.user.ID, "")
		require.NoError(t, err)

		events := f.pub.snapshot()
		last := events[len(events)-1]
		assert.Equal(t, v1.TypeTransactionDeleted, last.event)
		assert.Equal(t, f.group.ID, last.group)
	})
}

func TestNewService_NilStore(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	assert.Error(t, err)
}

// barrierStore holds every Update until n of them are in flight.
type barrierStore struct {
	Store
	wg *sync.WaitGroup
}

func (b barrierStore) Update(ctx context.Context, id string, p Patch, now time.Time) (Transaction, error) {
	b.wg.Done()
	b.wg.Wait()
	return b.Store.Update(ctx, id, p, now)
}

func TestService_ConcurrentDisjointPatchesBothApply(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	inner := NewMemoryStore(f.users)
	var wg sync.WaitGroup
	wg.Add(2)
	fixed := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	svc, err := NewService(barrierStore{Store: inner, wg: &wg}, f.users, f.pub,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixed }),
	)
	require.NoError(t, err)

	created, err := svc.Create(ctx, f.user.ID, NewTransaction{
		Amount: amount("100"), Description: "Tea", Category: "expense", GroupID: f.group.ID,
	})
	require.NoError(t, err)

	patches := []Patch{
		{Amount: Some(decimal.RequireFromString("200"))},
		{Description: Some("Coffee")},
	}
	errs := make(chan error, len(patches))
	for _, p := range patches {
		go func(p Patch) {
			_, err := svc.Update(ctx, created.ID, p)
			errs <- err
		}(p)
	}
	for range patches {
		require.NoError(t, <-errs)
	}

	got, err := svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("200").Equal(got.Amount), "amount %s", got.Amount)
	assert.Equal(t, "Coffee", got.Description)
}

func TestService_AnonymousUpdateDropsPreviousUpdater(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.user.ID, NewTransaction{
		Amount: amount("10"), Description: "taxi", Category: "expense", GroupID: f.group.ID,
	})
	require.NoError(t, err)

	signed, err := f.svc.Update(ctx, created.ID, Patch{Category: Some("travel"), UpdatedBy: f.user.ID})
	require.NoError(t, err)
	require.NotNil(t, signed.UpdatedBy)

	anon, err := f.svc.Update(ctx, created.ID, Patch{Category: Some("transport")})
	require.NoError(t, err)
	assert.Nil(t, anon.UpdatedByID)
	assert.Nil(t, anon.UpdatedBy)
}
