package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mizan-grc/mizan/pkg/security"
	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// SessionStore manages login sessions.
type SessionStore struct {
	m      *Manager
	cfg    Config
	logger *telemetry.Logger
	now    func() time.Time
	audit  *AuditStore
}

// Create opens a session for an existing user. A non-positive ttl uses the
// configured session lifetime.
func (s *SessionStore) Create(ctx context.Context, username string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = s.cfg.SessionTTL
	}
	token, err := security.GenerateToken(security.DefaultTokenBytes)
	if err != nil {
		return nil, err
	}

	var session *Session
	err = s.m.RunUnitOfWork(ctx, "sessions.create", func(ctx context.Context, q Querier) error {
		now := s.now().UTC()
		expires := now.Add(ttl)
		res, err := q.ExecContext(ctx, `
			INSERT INTO sessions (username, session_token, expires_at, created_at) VALUES (?, ?, ?, ?)
		`, username, token, expires, now)
		if err != nil {
			if isForeignKeyViolation(err) {
				s.logger.WithUsername(username).Warn("session rejected: user does not exist")
				return fmt.Errorf("session owner %q: %w", username, ErrOwnerNotFound)
			}
			return s.m.storageError("create session", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get session id: %w", err)
		}
		session = &Session{ID: id, Username: username, Token: token, ExpiresAt: expires, CreatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Validate returns the live session for token. Expired sessions and
// sessions of inactive users are reported as ErrNotFound.
func (s *SessionStore) Validate(ctx context.Context, token string) (*Session, error) {
	var session Session
	err := s.m.RunReadOnly(ctx, "sessions.validate", func(ctx context.Context, q Querier) error {
		err := q.QueryRowContext(ctx, `
			SELECT s.id, s.username, s.session_token, s.expires_at, s.created_at
			FROM sessions s JOIN users u ON u.username = s.username
			WHERE s.session_token = ? AND COALESCE(u.is_active, 1) = 1
		`, token).Scan(&session.ID, &session.Username, &session.Token, &session.ExpiresAt, &session.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session: %w", ErrNotFound)
		}
		if err != nil {
			return s.m.storageError("validate session", err)
		}
		if !s.now().Before(session.ExpiresAt) {
			return fmt.Errorf("session expired: %w", ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Invalidate ends the session for token and records the logout. Unknown
// tokens are ignored.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	return s.m.RunUnitOfWork(ctx, "sessions.invalidate", func(ctx context.Context, q Querier) error {
		var username string
		err := q.QueryRowContext(ctx,
			`DELETE FROM sessions WHERE session_token = ? RETURNING username`, token).Scan(&username)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return s.m.storageError("invalidate session", err)
		}
		if s.audit != nil {
			s.audit.Log(ctx, AuditEvent{Username: StringPtr(username), Action: ActionLogout})
		}
		return nil
	})
}

// DeleteByOwner removes every session of owner and reports how many went.
func (s *SessionStore) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	return s.deleteWhere(ctx, "sessions.delete_by_owner", `DELETE FROM sessions WHERE username = ?`, owner)
}

// PurgeExpired removes sessions past their expiry.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.deleteWhere(ctx, "sessions.purge_expired", `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UTC())
	if err == nil && n > 0 {
		s.logger.WithField("count", n).Info("purged expired sessions")
	}
	return n, err
}

func (s *SessionStore) deleteWhere(ctx context.Context, op, stmt string, args ...any) (int64, error) {
	var n int64
	err := s.m.RunUnitOfWork(ctx, op, func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return s.m.storageError("delete sessions", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
