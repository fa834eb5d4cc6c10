package stores

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// TestAuditLogAndRead tests appending events and reading them newest first
func TestAuditLogAndRead(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Audit.Log(ctx, AuditEvent{
			Username: StringPtr("alice"),
			Action:   ActionRiskCreated,
			Resource: StringPtr(fmt.Sprintf("risk:%d", i)),
		})
	}
	store.Audit.Log(ctx, AuditEvent{
		Action:    ActionLoginFailed,
		Details:   StringPtr("unknown user"),
		IPAddress: StringPtr("10.0.0.7"),
		UserAgent: StringPtr("curl/8.0"),
	})

	recent, err := store.Audit.GetRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, ActionLoginFailed, recent[0].Action)
	assert.Nil(t, recent[0].Username)
	require.NotNil(t, recent[0].IPAddress)
	assert.Equal(t, "10.0.0.7", *recent[0].IPAddress)
	assert.Equal(t, "risk:4", *recent[1].Resource)

	all, err := store.Audit.GetRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	alice, err := store.Audit.ListByUser(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, alice, 5)
}

// TestAuditOutlivesUser tests that audit rows survive deletion of their actor
func TestAuditOutlivesUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Users.Create(ctx, NewUser{Username: "alice", Password: "Passw0rd!"})
	require.NoError(t, err)
	store.Audit.Log(ctx, AuditEvent{Username: StringPtr("alice"), Action: ActionUserRegistered})
	require.NoError(t, store.Users.Delete(ctx, "alice"))

	events, err := store.Audit.ListByUser(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// TestAuditFailureIsSwallowed tests that a failed append is counted, not returned
func TestAuditFailureIsSwallowed(t *testing.T) {
	tel := telemetry.NewNop()
	store := setupTestStore(t, WithTelemetry(tel))
	ctx := context.Background()

	store.Audit.Log(ctx, AuditEvent{})
	assert.Equal(t, float64(1), gatherValue(t, tel.Metrics, "mizan_audit_write_failures_total"))

	require.NoError(t, store.Close())
	assert.NotPanics(t, func() {
		store.Audit.Log(ctx, AuditEvent{Action: ActionLogout})
	})
	assert.Equal(t, float64(2), gatherValue(t, tel.Metrics, "mizan_audit_write_failures_total"))
}

// TestAuditJoinsUnitOfWork tests that an event rolls back with its surrounding operation
func TestAuditJoinsUnitOfWork(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.RunUnitOfWork(ctx, "test.audit", func(ctx context.Context) error {
		store.Audit.Log(ctx, AuditEvent{Action: ActionRisksCleared})
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	events, err := store.Audit.GetRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
