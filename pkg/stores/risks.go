package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// RiskStore manages the risk register.
type RiskStore struct {
	m        *Manager
	validate *validator.Validate
	logger   *telemetry.Logger
	now      func() time.Time
}

// Create stores a risk exactly as scored by the caller and returns it with
// its id and timestamps filled in. The owner must be an existing user.
func (s *RiskStore) Create(ctx context.Context, r RiskEntry) (*RiskEntry, error) {
	if err := s.validate.Struct(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if r.Status == "" {
		r.Status = RiskStatusOpen
	}

	err := s.m.RunUnitOfWork(ctx, "risks.create", func(ctx context.Context, q Querier) error {
		now := s.now().UTC()
		res, err := q.ExecContext(ctx, `
			INSERT INTO risks (
				owner_user, domain, asset_name, field1, field2, field3, field4, threat,
				probability, impact, risk_score, risk_level, mitigation, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.Owner, r.Domain, r.AssetName, r.Field1, r.Field2, r.Field3, r.Field4, r.Threat,
			r.Probability, r.Impact, r.RiskScore, r.RiskLevel, r.Mitigation, r.Status, now, now,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				s.logger.WithUsername(r.Owner).Warn("risk rejected: owner does not exist")
				return fmt.Errorf("risk owner %q: %w", r.Owner, ErrOwnerNotFound)
			}
			return s.m.storageError("create risk", err)
		}

		if r.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get risk id: %w", err)
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithUsername(r.Owner).
		WithFields(map[string]interface{}{"risk_id": r.ID, "risk_level": r.RiskLevel}).
		Debug("risk created")
	return &r, nil
}

// GetByOwner returns the owner's risks, newest first. An empty domain
// matches every domain.
func (s *RiskStore) GetByOwner(ctx context.Context, owner, domain string) ([]RiskEntry, error) {
	query := `
		SELECT id, owner_user, domain, COALESCE(asset_name, ''),
			COALESCE(field1, ''), COALESCE(field2, ''), COALESCE(field3, ''), COALESCE(field4, ''),
			COALESCE(threat, ''), COALESCE(probability, 0), COALESCE(impact, 0), COALESCE(risk_score, 0),
			COALESCE(risk_level, ''), COALESCE(mitigation, ''), COALESCE(status, 'open'),
			created_at, updated_at
		FROM risks WHERE owner_user = ?`
	args := []any{owner}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	risks := []RiskEntry{}
	err := s.m.RunReadOnly(ctx, "risks.get_by_owner", func(ctx context.Context, q Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return s.m.storageError("query risks", err)
		}
		defer rows.Close()

		for rows.Next() {
			var r RiskEntry
			if err := rows.Scan(
				&r.ID, &r.Owner, &r.Domain, &r.AssetName,
				&r.Field1, &r.Field2, &r.Field3, &r.Field4,
				&r.Threat, &r.Probability, &r.Impact, &r.RiskScore,
				&r.RiskLevel, &r.Mitigation, &r.Status,
				&r.CreatedAt, &r.UpdatedAt,
			); err != nil {
				return fmt.Errorf("failed to scan risk: %w", err)
			}
			risks = append(risks, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return risks, nil
}

// UpdateStatus sets a risk's status. The vocabulary is the caller's.
func (s *RiskStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	return s.m.RunUnitOfWork(ctx, "risks.update_status", func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx,
			`UPDATE risks SET status = ?, updated_at = ? WHERE id = ?`,
			status, s.now().UTC(), id,
		)
		if err != nil {
			return s.m.storageError("update risk status", err)
		}
		return requireAffected(res, fmt.Sprintf("risk %d", id))
	})
}

// Delete removes one risk.
func (s *RiskStore) Delete(ctx context.Context, id int64) error {
	return s.m.RunUnitOfWork(ctx, "risks.delete", func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM risks WHERE id = ?`, id)
		if err != nil {
			return s.m.storageError("delete risk", err)
		}
		return requireAffected(res, fmt.Sprintf("risk %d", id))
	})
}

// DeleteByOwner removes every risk of owner and reports how many went.
func (s *RiskStore) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := s.m.RunUnitOfWork(ctx, "risks.delete_by_owner", func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM risks WHERE owner_user = ?`, owner)
		if err != nil {
			return s.m.storageError("delete risks", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.WithUsername(owner).WithField("count", n).Debug("risks deleted")
	return n, nil
}
