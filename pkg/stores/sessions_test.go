package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSessionLifecycle tests create, validate, expiry and purge
func TestSessionLifecycle(t *testing.T) {
	clock := newTestClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	short, err := store.Sessions.Create(ctx, "admin", 10*time.Minute)
	require.NoError(t, err)
	long, err := store.Sessions.Create(ctx, "admin", 0)
	require.NoError(t, err)
	assert.NotEqual(t, short.Token, long.Token)
	assert.True(t, long.ExpiresAt.Equal(clock.Now().Add(time.Hour)))

	got, err := store.Sessions.Validate(ctx, short.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Username)

	clock.Advance(11 * time.Minute)
	_, err = store.Sessions.Validate(ctx, short.Token)
	assert.ErrorIs(t, err, ErrNotFound, "expired sessions are inert")
	_, err = store.Sessions.Validate(ctx, long.Token)
	require.NoError(t, err)

	n, err := store.Sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.Sessions.Invalidate(ctx, long.Token))
	require.NoError(t, store.Sessions.Invalidate(ctx, long.Token))
	_, err = store.Sessions.Validate(ctx, long.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := store.Audit.ListByUser(ctx, "admin", 0)
	require.NoError(t, err)
	require.Len(t, events, 1, "only the first invalidation ends a session")
	assert.Equal(t, ActionLogout, events[0].Action)
}

// TestSessionRejections tests unknown owners and inactive users
func TestSessionRejections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Sessions.Create(ctx, "ghost", 0)
	assert.ErrorIs(t, err, ErrOwnerNotFound)

	_, err = store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)
	s, err := store.Sessions.Create(ctx, "alice", 0)
	require.NoError(t, err)

	require.NoError(t, store.Users.SetActive(ctx, "alice", false))
	_, err = store.Sessions.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}
