package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScoreRisk tests clamping and banding of risk scores
func TestScoreRisk(t *testing.T) {
	tests := []struct {
		p, i  int
		score int
		level RiskLevel
	}{
		{1, 1, 1, RiskLevelLow},
		{2, 2, 4, RiskLevelLow},
		{1, 5, 5, RiskLevelMedium},
		{3, 3, 9, RiskLevelMedium},
		{2, 5, 10, RiskLevelHigh},
		{3, 5, 15, RiskLevelCritical},
		{5, 5, 25, RiskLevelCritical},
		{0, 9, 5, RiskLevelMedium},
		{-3, -3, 1, RiskLevelLow},
	}
	for _, tt := range tests {
		score, level := ScoreRisk(tt.p, tt.i)
		assert.Equal(t, tt.score, score, "p=%d i=%d", tt.p, tt.i)
		assert.Equal(t, tt.level, level, "p=%d i=%d", tt.p, tt.i)
	}
}

// TestRiskCRUD tests creating, listing, updating and deleting risks
func TestRiskCRUD(t *testing.T) {
	clock := newTestClock()
	store := setupTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)

	older, err := store.Risks.Create(ctx, RiskEntry{
		Owner: "alice", Domain: "cyber", AssetName: "CRM", Threat: "Phishing",
		Probability: 3, Impact: 3, RiskScore: 9, RiskLevel: RiskLevelMedium, Mitigation: "Training",
	})
	require.NoError(t, err)
	assert.NotZero(t, older.ID)
	assert.Equal(t, RiskStatusOpen, older.Status)

	clock.Advance(time.Minute)
	newer, err := store.Risks.Create(ctx, RiskEntry{
		Owner: "alice", Domain: "data", AssetName: "Warehouse", Field1: "PII", Threat: "Exfiltration",
		Probability: 4, Impact: 5, RiskScore: 20, RiskLevel: RiskLevelCritical,
	})
	require.NoError(t, err)

	all, err := store.Risks.GetByOwner(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID, "newest first")
	assert.Equal(t, "PII", all[0].Field1)
	assert.Equal(t, older.ID, all[1].ID)

	cyber, err := store.Risks.GetByOwner(ctx, "alice", "cyber")
	require.NoError(t, err)
	require.Len(t, cyber, 1)
	assert.Equal(t, "Training", cyber[0].Mitigation)

	require.NoError(t, store.Risks.UpdateStatus(ctx, older.ID, "mitigated"))
	cyber, err = store.Risks.GetByOwner(ctx, "alice", "cyber")
	require.NoError(t, err)
	assert.Equal(t, "mitigated", cyber[0].Status)
	assert.ErrorIs(t, store.Risks.UpdateStatus(ctx, 9999, "closed"), ErrNotFound)

	require.NoError(t, store.Risks.Delete(ctx, older.ID))
	assert.ErrorIs(t, store.Risks.Delete(ctx, older.ID), ErrNotFound)

	n, err := store.Risks.DeleteByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	none, err := store.Risks.GetByOwner(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

// TestRiskCreateRejections tests owner and range checks
func TestRiskCreateRejections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Risks.Create(ctx, RiskEntry{Owner: "ghost", Domain: "cyber", Probability: 1, Impact: 1, RiskScore: 1})
	assert.ErrorIs(t, err, ErrOwnerNotFound)

	_, err = store.Risks.Create(ctx, RiskEntry{Owner: "admin", Domain: "cyber", Probability: 6, Impact: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = store.Risks.Create(ctx, RiskEntry{Owner: "admin", Probability: 1, Impact: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
