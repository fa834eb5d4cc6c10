package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// DefaultAuditLimit bounds audit reads that pass no positive limit.
const DefaultAuditLimit = 100

// AuditStore is the append-only security log.
type AuditStore struct {
	m       *Manager
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Log appends e. It never fails the caller: errors are logged and counted.
// Inside a unit of work the event commits or rolls back with it.
func (s *AuditStore) Log(ctx context.Context, e AuditEvent) {
	if e.Action == "" {
		s.logger.Error("audit event without action dropped")
		s.metrics.RecordAuditFailure()
		return
	}

	err := s.m.RunUnitOfWork(ctx, "audit.log", func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO audit_log (username, action, resource, details, ip_address, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.Username, e.Action, e.Resource, e.Details, e.IPAddress, e.UserAgent, s.now().UTC())
		if err != nil {
			return s.m.storageError("append audit event", err)
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("action", e.Action).Error("failed to write audit event")
		s.metrics.RecordAuditFailure()
	}
}

// GetRecent returns up to limit events, newest first.
func (s *AuditStore) GetRecent(ctx context.Context, limit int) ([]AuditEvent, error) {
	return s.list(ctx, "audit.get_recent", `SELECT `+auditColumns+` FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
}

// ListByUser returns up to limit events naming username, newest first.
func (s *AuditStore) ListByUser(ctx context.Context, username string, limit int) ([]AuditEvent, error) {
	return s.list(ctx, "audit.list_by_user",
		`SELECT `+auditColumns+` FROM audit_log WHERE username = ? ORDER BY id DESC LIMIT ?`, username, limit)
}

const auditColumns = `id, username, action, resource, details, ip_address, user_agent, created_at`

// list runs query with limit as its last parameter.
func (s *AuditStore) list(ctx context.Context, op, query string, args ...any) ([]AuditEvent, error) {
	if limit, ok := args[len(args)-1].(int); ok && limit <= 0 {
		args[len(args)-1] = DefaultAuditLimit
	}

	events := []AuditEvent{}
	err := s.m.RunReadOnly(ctx, op, func(ctx context.Context, q Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return s.m.storageError("query audit log", err)
		}
		defer rows.Close()

		for rows.Next() {
			var e AuditEvent
			if err := rows.Scan(
				&e.ID, &e.Username, &e.Action, &e.Resource, &e.Details,
				&e.IPAddress, &e.UserAgent, &e.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to scan audit event: %w", err)
			}
			events = append(events, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
