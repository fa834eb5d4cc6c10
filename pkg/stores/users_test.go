package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizan-grc/mizan/pkg/security"
)

// TestUserCreateDuplicate tests that a second registration of a name fails and keeps one row
func TestUserCreateDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!", Email: StringPtr("alice@example.com")})
	require.NoError(t, err)
	assert.Equal(t, RoleUser, first.Role)
	assert.NotEqual(t, "Passw0rd!", first.PasswordHash)

	_, err = store.Users.Create(ctx, NewUser{Username: "alice", Password: "other"})
	require.ErrorIs(t, err, ErrUserExists)

	users, err := store.Users.ListAll(ctx)
	require.NoError(t, err)
	count := 0
	for _, u := range users {
		if u.Username == "alice" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	_, ok, err := store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok, "the original password must still work")
}

// TestUserCreateValidation tests input validation on registration
func TestUserCreateValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cases := []NewUser{
		{Username: "", Password: "pw"},
		{Username: "ab", Password: "pw"},
		{Username: "has space", Password: "pw"},
		{Username: "nopass"},
		{Username: "bademail", Password: "pw", Email: StringPtr("not-an-email")},
		{Username: "sneaky", Password: "pw", Role: RoleAdmin},
		{Username: "sneakier", Password: "pw", Role: "Admin"},
		{Username: "sneakiest", Password: "pw", Role: " ADMIN "},
	}
	for _, nu := range cases {
		_, err := store.Users.Create(ctx, nu)
		assert.ErrorIs(t, err, ErrInvalidInput, "username %q", nu.Username)
	}
}

// TestUserDeleteAdminRefused tests that the admin account cannot be deleted
func TestUserDeleteAdminRefused(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, store.Users.Delete(ctx, "admin"), ErrProtectedAccount)

	admin, err := store.Users.GetByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role)
}

// TestUserDeleteCascades tests that deleting a user removes everything it owns
func TestUserDeleteCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedOwnedRows(t, store, "alice")

	require.NoError(t, store.Users.Delete(ctx, "alice"))

	_, err := store.Users.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assertOwnedRows(t, store, "alice", 0, 0, 0)

	require.ErrorIs(t, store.Users.Delete(ctx, "alice"), ErrNotFound)
}

type failingPurger struct{}

func (failingPurger) DeleteByOwner(context.Context, string) (int64, error) {
	return 0, errors.New("injected failure")
}

// TestUserDeleteCascadeAtomic tests that a failure mid-cascade leaves everything in place
func TestUserDeleteCascadeAtomic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedOwnedRows(t, store, "alice")

	store.Users.cascade = []ownerPurger{store.Risks, failingPurger{}, store.Sessions}
	err := store.Users.Delete(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected failure")

	_, err = store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assertOwnedRows(t, store, "alice", 2, 3, 1)
}

// TestUserVerifyPassword tests login success, failure and last_login tracking
func TestUserVerifyPassword(t *testing.T) {
	clock := newTestClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)

	u, ok, err := store.Users.VerifyPassword(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)

	u, ok, err = store.Users.VerifyPassword(ctx, "nobody", "Passw0rd!")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, u)

	clock.Advance(time.Minute)
	u, ok, err = store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, u.LastLogin)
	assert.True(t, u.LastLogin.Equal(clock.Now()))
	assert.Zero(t, u.FailedAttempts)

	stored, err := store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(clock.Now()))
	assert.Zero(t, stored.FailedAttempts)

	events, err := store.Audit.ListByUser(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionLoginSuccess, events[0].Action)
	assert.Equal(t, ActionLoginFailed, events[1].Action)
	require.NotNil(t, events[1].Details)
	assert.Equal(t, "invalid password", *events[1].Details)

	events, err = store.Audit.ListByUser(ctx, "nobody", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ActionLoginFailed, events[0].Action)
	require.NotNil(t, events[0].Details)
	assert.Equal(t, "unknown user", *events[0].Details)
}

// TestUserVerifyUpgradesLegacyHash tests transparent rehashing of older schemes
func TestUserVerifyUpgradesLegacyHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	legacy := map[string]string{
		"sha-user":    security.LegacySHA256("old-secret"),
		"pbkdf2-user": security.LegacyPBKDF2("old-secret", []byte("0123456789abcdef0123456789abcdef")),
	}
	for name, hash := range legacy {
		_, err := store.Users.Create(ctx, NewUser{Username: name, Password: "placeholder"})
		require.NoError(t, err)
		setPasswordHash(t, store, name, hash)
	}

	for name := range legacy {
		u, ok, err := store.Users.VerifyPassword(ctx, name, "old-secret")
		require.NoError(t, err)
		require.True(t, ok, name)
		assert.Equal(t, security.SchemeBcrypt, security.Identify(u.PasswordHash), name)
		require.NotNil(t, u.LastLogin)

		stored, err := store.Users.GetByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, u.PasswordHash, stored.PasswordHash)

		_, ok, err = store.Users.VerifyPassword(ctx, name, "old-secret")
		require.NoError(t, err)
		assert.True(t, ok, "upgraded hash must verify the same password")
	}
}

// TestUserLockout tests that repeated failures lock the account until the lockout passes
func TestUserLockout(t *testing.T) {
	clock := newTestClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok, err := store.Users.VerifyPassword(ctx, "alice", "wrong")
		require.NoError(t, err)
		require.False(t, ok)
	}

	u, err := store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, u.FailedAttempts)
	require.NotNil(t, u.LockedUntil)
	assert.True(t, u.LockedUntil.Equal(clock.Now().Add(15*time.Minute)))

	_, ok, err := store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.False(t, ok, "locked account must reject the right password")

	clock.Advance(16 * time.Minute)
	_, ok, err = store.Users.VerifyPassword(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
	u, err = store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, u.FailedAttempts, "an expired lock restarts the count")
	assert.Nil(t, u.LockedUntil)

	_, ok, err = store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestUserUnlock tests that an admin unlock clears the lockout immediately
func TestUserUnlock(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := store.Users.VerifyPassword(ctx, "alice", "wrong")
		require.NoError(t, err)
	}

	require.NoError(t, store.Users.Unlock(ctx, "alice"))
	_, ok, err := store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, store.Users.Unlock(ctx, "ghost"), ErrNotFound)
}

// TestUserProtectedAdmin tests that the admin cannot be demoted or disabled and nobody can be promoted
func TestUserProtectedAdmin(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)

	assert.ErrorIs(t, store.Users.SetRole(ctx, "alice", RoleAdmin), ErrInvalidInput)
	assert.ErrorIs(t, store.Users.SetRole(ctx, "alice", "Admin"), ErrInvalidInput)
	assert.ErrorIs(t, store.Users.SetRole(ctx, "admin", "auditor"), ErrProtectedAccount)
	assert.ErrorIs(t, store.Users.SetActive(ctx, "admin", false), ErrProtectedAccount)

	require.NoError(t, store.Users.SetRole(ctx, "alice", "Auditor"))
	u, err := store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Role("auditor"), u.Role)
}

// TestUserSetActive tests that inactive users disappear from lookups and logins
func TestUserSetActive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)
	require.NoError(t, store.Users.SetActive(ctx, "alice", false))

	_, err = store.Users.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok, err := store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.False(t, ok)

	users, err := store.Users.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.False(t, users[1].IsActive)

	require.NoError(t, store.Users.SetActive(ctx, "alice", true))
	_, err = store.Users.GetByUsername(ctx, "alice")
	assert.NoError(t, err)
}

// TestUserChangePasswordAndAPIKey tests the single-field updates
func TestUserChangePasswordAndAPIKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)

	require.NoError(t, store.Users.ChangePassword(ctx, "alice", "N3wPass!"))
	_, ok, err := store.Users.VerifyPassword(ctx, "alice", "Passw0rd!")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Users.VerifyPassword(ctx, "alice", "N3wPass!")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, store.Users.ChangePassword(ctx, "alice", ""), ErrInvalidInput)

	key, err := security.GenerateAPIKey("")
	require.NoError(t, err)
	require.NoError(t, store.Users.UpdateAPIKey(ctx, "alice", key))
	u, err := store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, u.APIKey)
	assert.Equal(t, key, *u.APIKey)

	require.NoError(t, store.Users.UpdateAPIKey(ctx, "alice", ""))
	u, err = store.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, u.APIKey)

	assert.ErrorIs(t, store.Users.UpdateAPIKey(ctx, "ghost", key), ErrNotFound)
}

// seedOwnedRows creates username with two risks, three initiatives and a session.
func seedOwnedRows(t *testing.T, store *Store, username string) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: username, Password: "Passw0rd!"})
	require.NoError(t, err)
	for _, p := range []int{2, 5} {
		score, level := ScoreRisk(p, 3)
		_, err := store.Risks.Create(ctx, RiskEntry{
			Owner: username, Domain: "cyber", Probability: p, Impact: 3, RiskScore: score, RiskLevel: level,
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Projects.SaveRoadmap(ctx, username, "cyber", []RoadmapItem{
		{Phase: "1", Initiative: "Asset inventory", Duration: 2},
		{Phase: "1", Initiative: "MFA rollout", Duration: 3},
		{Phase: "2", Initiative: "SOC onboarding", Duration: 6},
	}))
	_, err = store.Sessions.Create(ctx, username, 0)
	require.NoError(t, err)
}

func assertOwnedRows(t *testing.T, store *Store, owner string, risks, projects, sessions int) {
	t.Helper()
	db := rawDB(t, store.manager.cfg.Path)
	for table, want := range map[string]int{
		"risks WHERE owner_user = ?":    risks,
		"projects WHERE owner_user = ?": projects,
		"sessions WHERE username = ?":   sessions,
	} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table, owner).Scan(&n))
		assert.Equal(t, want, n, table)
	}
}

func setPasswordHash(t *testing.T, store *Store, username, hash string) {
	t.Helper()
	err := store.manager.RunUnitOfWork(context.Background(), "test.set_hash", func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE username = ?`, hash, username)
		return err
	})
	require.NoError(t, err)
}
