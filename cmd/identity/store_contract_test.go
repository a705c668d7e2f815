package identity

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/storage"
)

const (
	fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	fpC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

// storeFactories lists every backend the contract runs against.
// Postgres joins when TALLY_TEST_DATABASE_URL is set (see store_postgres_integration_test.go).
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()

	factories := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "identity.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			st, err := NewSQLiteStore(db)
			require.NoError(t, err)
			return st
		},
	}
	if f := postgresFactory(t); f != nil {
		factories["postgres"] = f
	}
	return factories
}

func runContract(t *testing.T, fn func(t *testing.T, ctx context.Context, st Store)) {
	t.Helper()
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			fn(t, ctx, factory(t))
		})
	}
}

func mustCreateUser(t *testing.T, ctx context.Context, st Store, email string, groupID *string) User {
	t.Helper()
	u, err := st.CreateUser(ctx, CreateUserInput{
		Name:         "Test User",
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderpla",
		GroupID:      groupID,
	})
	require.NoError(t, err)
	return u
}

func TestStore_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		u := mustCreateUser(t, ctx, st, "User@Example.com", nil)
		assert.Equal(t, "user@example.com", u.Email)
		assert.Len(t, u.ID, 26)
		assert.Nil(t, u.RefreshFingerprint)

		_, err := st.CreateUser(ctx, CreateUserInput{
			Name:         "Other",
			Email:        "  user@EXAMPLE.com ",
			PasswordHash: "x",
		})
		require.Error(t, err)
		assert.True(t, fault.IsConflict(err), "%v", err)
		assert.Equal(t, "user with this email already exists", fault.PublicMessage(err))
	})
}

func TestStore_CreateUser_Validation(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		cases := []CreateUserInput{
			{Name: "", Email: "a@b.co", PasswordHash: "x"},
			{Name: "A", Email: "", PasswordHash: "x"},
			{Name: "A", Email: "not an email", PasswordHash: "x"},
			{Name: "A", Email: "a@b.co", PasswordHash: ""},
			{Name: strings.Repeat("n", maxNameLen+1), Email: "a@b.co", PasswordHash: "x"},
		}
		for _, in := range cases {
			_, err := st.CreateUser(ctx, in)
			assert.True(t, fault.IsInvalidInput(err), "%+v -> %v", in, err)
		}
	})
}

func TestStore_CreateUser_UnknownGroup(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		missing := "01J0000000000000000000MISS"
		_, err := st.CreateUser(ctx, CreateUserInput{
			Name: "A", Email: "a@b.co", PasswordHash: "x", GroupID: &missing,
		})
		require.Error(t, err)
		assert.True(t, fault.IsNotFound(err), "%v", err)
	})
}

func TestStore_GetUser(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		u := mustCreateUser(t, ctx, st, "get@example.com", nil)

		byID, err := st.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, byID.Email)
		assert.Equal(t, u.PasswordHash, byID.PasswordHash)

		byEmail, err := st.GetUserByEmail(ctx, "GET@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		_, err = st.GetUserByID(ctx, "nope")
		assert.True(t, fault.IsNotFound(err))
		_, err = st.GetUserByEmail(ctx, "nobody@example.com")
		assert.True(t, fault.IsNotFound(err))
	})
}

func TestStore_GetUserSummaries(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		a := mustCreateUser(t, ctx, st, "a@example.com", nil)
		b := mustCreateUser(t, ctx, st, "b@example.com", nil)

		got, err := st.GetUserSummaries(ctx, []string{a.ID, b.ID, "missing"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, UserSummary{ID: a.ID, Name: "Test User", Email: "a@example.com"}, got[a.ID])

		empty, err := st.GetUserSummaries(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStore_RefreshFingerprintLifecycle(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		u := mustCreateUser(t, ctx, st, "fp@example.com", nil)

		// Nothing stored yet: a swap cannot succeed.
		err := st.SwapRefreshFingerprint(ctx, u.ID, fpA, fpB, time.Time{})
		assert.True(t, fault.IsUnauthorized(err), "%v", err)

		require.NoError(t, st.SetRefreshFingerprint(ctx, u.ID, fpA, time.Time{}))
		got, err := st.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RefreshFingerprint)
		assert.Equal(t, fpA, *got.RefreshFingerprint)

		// Overwrite on a second login.
		require.NoError(t, st.SetRefreshFingerprint(ctx, u.ID, fpB, time.Time{}))

		err = st.SwapRefreshFingerprint(ctx, u.ID, fpA, fpC, time.Time{})
		assert.True(t, fault.IsUnauthorized(err), "stale fingerprint must not swap")

		require.NoError(t, st.SwapRefreshFingerprint(ctx, u.ID, fpB, fpC, time.Time{}))
		err = st.SwapRefreshFingerprint(ctx, u.ID, fpB, fpA, time.Time{})
		assert.True(t, fault.IsUnauthorized(err), "second swap with the same value must fail")

		require.NoError(t, st.ClearRefreshFingerprint(ctx, u.ID, time.Time{}))
		require.NoError(t, st.ClearRefreshFingerprint(ctx, u.ID, time.Time{}))
		require.NoError(t, st.ClearRefreshFingerprint(ctx, "unknown-user", time.Time{}))

		got, err = st.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Nil(t, got.RefreshFingerprint)

		err = st.SetRefreshFingerprint(ctx, "unknown-user", fpA, time.Time{})
		assert.True(t, fault.IsNotFound(err))
	})
}

func TestStore_SwapRefreshFingerprint_SingleWinner(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		u := mustCreateUser(t, ctx, st, "race@example.com", nil)
		require.NoError(t, st.SetRefreshFingerprint(ctx, u.ID, fpA, time.Time{}))

		const racers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := fpB
				if i%2 == 1 {
					next = fpC
				}
				if err := st.SwapRefreshFingerprint(ctx, u.ID, fpA, next, time.Time{}); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})
}

func TestStore_Groups(t *testing.T) {
	runContract(t, func(t *testing.T, ctx context.Context, st Store) {
		_, err := st.CreateGroup(ctx, CreateGroupInput{Name: "   "})
		assert.True(t, fault.IsInvalidInput(err))

		g, err := st.CreateGroup(ctx, CreateGroupInput{Name: " Family   Finances "})
		require.NoError(t, err)
		assert.Equal(t, "Family Finances", g.Name)

		// Names are not unique.
		_, err = st.CreateGroup(ctx, CreateGroupInput{Name: "Family Finances"})
		require.NoError(t, err)

		got, err := st.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, g.Name, got.Name)

		_, err = st.GetGroup(ctx, "missing")
		assert.True(t, fault.IsNotFound(err))

		all, err := st.ListGroups(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		u := mustCreateUser(t, ctx, st, "member@example.com", nil)
		moved, err := st.SetUserGroup(ctx, u.ID, g.ID, time.Time{})
		require.NoError(t, err)
		require.NotNil(t, moved.GroupID)
		assert.Equal(t, g.ID, *moved.GroupID)

		_, err = st.SetUserGroup(ctx, "missing", g.ID, time.Time{})
		assert.True(t, fault.IsNotFound(err))
		_, err = st.SetUserGroup(ctx, u.ID, "01J0000000000000000000MISS", time.Time{})
		assert.True(t, fault.IsNotFound(err))

		withGroup := mustCreateUser(t, ctx, st, "grouped@example.com", &g.ID)
		assert.Equal(t, g.ID, withGroup.GroupIDValue())
	})
}
