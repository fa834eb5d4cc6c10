package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mizan-grc/mizan/pkg/security"
	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// ownerPurger removes every row a user owns. UserStore.Delete runs all
// purgers inside its unit of work before removing the user row.
type ownerPurger interface {
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
}

// UserStore manages accounts.
type UserStore struct {
	m        *Manager
	cfg      Config
	hasher   *security.Hasher
	validate *validator.Validate
	logger   *telemetry.Logger
	now      func() time.Time
	cascade  []ownerPurger
	audit    *AuditStore
}

const userColumns = `id, username, password_hash, api_key, email,
	COALESCE(role, 'user'), COALESCE(is_active, 1), COALESCE(failed_attempts, 0),
	locked_until, created_at, updated_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.APIKey, &u.Email,
		&u.Role, &u.IsActive, &u.FailedAttempts,
		&u.LockedUntil, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// lookup reads a user row regardless of its active flag.
func (s *UserStore) lookup(ctx context.Context, q Querier, username string) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, s.m.storageError("get user", err)
	}
	return u, nil
}

// GetByUsername returns an active user. Inactive and unknown users are both
// reported as ErrNotFound.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	var user *User
	err := s.m.RunReadOnly(ctx, "users.get", func(ctx context.Context, q Querier) error {
		u, err := s.lookup(ctx, q, username)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		user = u
		return nil
	})
	return user, err
}

// Create registers a new account with a hashed password. A taken username
// yields ErrUserExists and leaves the existing row untouched.
func (s *UserStore) Create(ctx context.Context, nu NewUser) (*User, error) {
	nu.Role = normalizeRole(nu.Role)
	if err := s.validate.Struct(nu); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	role := nu.Role
	if role == "" {
		role = RoleUser
	}

	hash, err := s.hasher.Hash(nu.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user *User
	err = s.m.RunUnitOfWork(ctx, "users.create", func(ctx context.Context, q Querier) error {
		now := s.now().UTC()
		res, err := q.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, email, role, is_active, failed_attempts, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, 0, ?, ?)
		`, nu.Username, hash, nu.Email, role, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				s.logger.WithUsername(nu.Username).Warn("registration rejected: username already exists")
				return fmt.Errorf("user %q: %w", nu.Username, ErrUserExists)
			}
			return s.m.storageError("create user", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get user id: %w", err)
		}
		user = &User{
			ID:           id,
			Username:     nu.Username,
			PasswordHash: hash,
			Email:        nu.Email,
			Role:         role,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithUsername(nu.Username).Info("user created")
	return user, nil
}

// VerifyPassword checks credentials. On success it records the login time,
// clears any failed-attempt state and upgrades a stale password hash in the
// same unit of work. Unknown, inactive, locked and mismatching accounts all
// yield (nil, false, nil); the error is reserved for storage failures. Every
// attempt is written to the audit log.
func (s *UserStore) VerifyPassword(ctx context.Context, username, password string) (*User, bool, error) {
	var user *User
	err := s.m.RunUnitOfWork(ctx, "users.verify_password", func(ctx context.Context, q Querier) error {
		u, err := s.lookup(ctx, q, username)
		if errors.Is(err, ErrNotFound) {
			s.auditLogin(ctx, username, ActionLoginFailed, "unknown user")
			return nil
		}
		if err != nil {
			return err
		}
		if !u.IsActive {
			s.auditLogin(ctx, username, ActionLoginFailed, "account disabled")
			return nil
		}

		logger := s.logger.WithUsername(username)
		now := s.now().UTC()

		if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
			logger.Warn("login rejected: account locked")
			s.auditLogin(ctx, username, ActionLoginFailed, "account locked")
			return nil
		}
		attempts := u.FailedAttempts
		if u.LockedUntil != nil {
			attempts = 0
		}

		if !s.hasher.Verify(password, u.PasswordHash) {
			if err := s.recordFailure(ctx, q, u, attempts+1, now); err != nil {
				return err
			}
			s.auditLogin(ctx, username, ActionLoginFailed, "invalid password")
			return nil
		}

		hash := u.PasswordHash
		if s.hasher.NeedsRehash(hash) {
			upgraded, err := s.hasher.Hash(password)
			if err != nil {
				return fmt.Errorf("failed to rehash password: %w", err)
			}
			logger.WithField("from", security.Identify(hash)).Info("upgrading password hash")
			hash = upgraded
		}

		if _, err := q.ExecContext(ctx, `
			UPDATE users
			SET password_hash = ?, failed_attempts = 0, locked_until = NULL, last_login = ?, updated_at = ?
			WHERE id = ?
		`, hash, now, now, u.ID); err != nil {
			return s.m.storageError("record login", err)
		}

		u.PasswordHash = hash
		u.FailedAttempts = 0
		u.LockedUntil = nil
		u.LastLogin = &now
		u.UpdatedAt = now
		user = u
		s.auditLogin(ctx, username, ActionLoginSuccess, "")
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return user, user != nil, nil
}

func (s *UserStore) auditLogin(ctx context.Context, username, action, reason string) {
	if s.audit == nil {
		return
	}
	e := AuditEvent{Username: StringPtr(username), Action: action}
	if reason != "" {
		e.Details = StringPtr(reason)
	}
	s.audit.Log(ctx, e)
}

func (s *UserStore) recordFailure(ctx context.Context, q Querier, u *User, attempts int, now time.Time) error {
	var lockedUntil *time.Time
	if s.cfg.MaxLoginAttempts > 0 && attempts >= s.cfg.MaxLoginAttempts {
		until := now.Add(s.cfg.LockoutDuration)
		lockedUntil = &until
		s.logger.WithUsername(u.Username).
			WithField("failed_attempts", attempts).
			Warnf("account locked until %s", until.Format(time.RFC3339))
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE users SET failed_attempts = ?, locked_until = ?, updated_at = ? WHERE id = ?
	`, attempts, lockedUntil, now, u.ID); err != nil {
		return s.m.storageError("record failed login", err)
	}
	return nil
}

// Delete removes a non-admin user together with every risk, project and
// session it owns. Either all of it goes or none of it does.
func (s *UserStore) Delete(ctx context.Context, username string) error {
	if username == s.cfg.AdminUsername {
		s.logger.WithUsername(username).Warn("refusing to delete the admin account")
		return fmt.Errorf("delete %q: %w", username, ErrProtectedAccount)
	}

	err := s.m.RunUnitOfWork(ctx, "users.delete", func(ctx context.Context, q Querier) error {
		u, err := s.lookup(ctx, q, username)
		if err != nil {
			return err
		}
		if u.Role == RoleAdmin {
			return fmt.Errorf("delete %q: %w", username, ErrProtectedAccount)
		}

		for _, p := range s.cascade {
			if _, err := p.DeleteByOwner(ctx, username); err != nil {
				return fmt.Errorf("failed to delete data owned by %q: %w", username, err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, u.ID); err != nil {
			return s.m.storageError("delete user", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithUsername(username).Info("user deleted")
	return nil
}

// ListAll returns every account without credentials, oldest first.
func (s *UserStore) ListAll(ctx context.Context) ([]UserSummary, error) {
	users := []UserSummary{}
	err := s.m.RunReadOnly(ctx, "users.list", func(ctx context.Context, q Querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT username, email, COALESCE(role, 'user'), COALESCE(is_active, 1), created_at, last_login
			FROM users ORDER BY id
		`)
		if err != nil {
			return s.m.storageError("list users", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u UserSummary
			if err := rows.Scan(&u.Username, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt, &u.LastLogin); err != nil {
				return fmt.Errorf("failed to scan user: %w", err)
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateAPIKey sets or, with an empty key, clears the user's API key.
func (s *UserStore) UpdateAPIKey(ctx context.Context, username, key string) error {
	return s.update(ctx, "users.update_api_key", username,
		`UPDATE users SET api_key = ?, updated_at = ? WHERE username = ?`, StringPtr(key))
}

// ChangePassword replaces the user's password hash.
func (s *UserStore) ChangePassword(ctx context.Context, username, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.update(ctx, "users.change_password", username,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`, hash)
}

// SetRole changes a user's role. The admin role cannot be granted and the
// admin account cannot be demoted.
func (s *UserStore) SetRole(ctx context.Context, username string, role Role) error {
	role = normalizeRole(role)
	if err := s.validate.Var(string(role), "required,max=32,ne=admin"); err != nil {
		return fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if username == s.cfg.AdminUsername {
		return fmt.Errorf("change role of %q: %w", username, ErrProtectedAccount)
	}
	return s.update(ctx, "users.set_role", username,
		`UPDATE users SET role = ?, updated_at = ? WHERE username = ? AND role <> 'admin'`, role)
}

// SetActive enables or disables an account. The admin account cannot be
// disabled.
func (s *UserStore) SetActive(ctx context.Context, username string, active bool) error {
	if !active && username == s.cfg.AdminUsername {
		return fmt.Errorf("deactivate %q: %w", username, ErrProtectedAccount)
	}
	return s.update(ctx, "users.set_active", username,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE username = ?`, active)
}

// Unlock clears a lockout and the failed-attempt counter.
func (s *UserStore) Unlock(ctx context.Context, username string) error {
	return s.update(ctx, "users.unlock", username,
		`UPDATE users SET failed_attempts = 0, locked_until = NULL, updated_at = ? WHERE username = ?`)
}

// update runs a single-row UPDATE whose trailing parameters are updated_at
// and the username. Zero affected rows is ErrNotFound.
func (s *UserStore) update(ctx context.Context, op, username, stmt string, args ...any) error {
	return s.m.RunUnitOfWork(ctx, op, func(ctx context.Context, q Querier) error {
		args = append(args, s.now().UTC(), username)
		res, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return s.m.storageError("update user", err)
		}
		return requireAffected(res, fmt.Sprintf("user %q", username))
	})
}
