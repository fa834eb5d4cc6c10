package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStats tests counts and the username/role projection
func TestStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedOwnedRows(t, store, "alice")

	stats, err := store.Stats.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UserCount)
	assert.Equal(t, 2, stats.RiskCount)
	assert.Equal(t, 3, stats.ProjectCount)
	assert.Equal(t, []UserRole{{"admin", RoleAdmin}, {"alice", RoleUser}}, stats.Users)
}

// TestStatsIgnoresOrphans tests that rows without an existing owner are not counted
func TestStatsIgnoresOrphans(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seedOwnedRows(t, store, "alice")

	// Foreign keys are off on a plain connection, as in files written by
	// older releases.
	db := rawDB(t, store.manager.cfg.Path)
	_, err := db.Exec(`INSERT INTO risks (owner_user, domain, probability, impact) VALUES ('ghost', 'cyber', 1, 1)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO projects (owner_user, domain, initiative) VALUES ('ghost', 'cyber', 'Z')`)
	require.NoError(t, err)

	stats, err := store.Stats.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RiskCount)
	assert.Equal(t, 3, stats.ProjectCount)
}
