package stores

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// ProjectStore manages roadmap initiatives.
type ProjectStore struct {
	m        *Manager
	validate *validator.Validate
	logger   *telemetry.Logger
	now      func() time.Time
}

// SaveRoadmap replaces the (owner, domain) roadmap with items. Readers see
// either the previous roadmap or the new one, never a mix. An empty items
// slice clears the roadmap.
func (s *ProjectStore) SaveRoadmap(ctx context.Context, owner, domain string, items []RoadmapItem) error {
	if owner == "" || domain == "" {
		return fmt.Errorf("%w: owner and domain are required", ErrInvalidInput)
	}
	for i, item := range items {
		if err := s.validate.Struct(item); err != nil {
			return fmt.Errorf("%w: roadmap row %d: %v", ErrInvalidInput, i+1, err)
		}
	}

	err := s.m.RunUnitOfWork(ctx, "projects.save_roadmap", func(ctx context.Context, q Querier) error {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM projects WHERE owner_user = ? AND domain = ?`, owner, domain,
		); err != nil {
			return s.m.storageError("clear roadmap", err)
		}

		now := s.now().UTC()
		for _, item := range items {
			status := item.Status
			if status == "" {
				status = ProjectStatusPlanned
			}
			_, err := q.ExecContext(ctx, `
				INSERT INTO projects (
					owner_user, domain, phase, initiative, duration, cost, role, kpi, status, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, owner, domain, item.Phase, item.Initiative, item.Duration, item.Cost,
				item.Role, item.KPI, status, now, now)
			if err != nil {
				if isForeignKeyViolation(err) {
					s.logger.WithUsername(owner).Warn("roadmap rejected: owner does not exist")
					return fmt.Errorf("roadmap owner %q: %w", owner, ErrOwnerNotFound)
				}
				return s.m.storageError("insert roadmap row", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithUsername(owner).
		WithFields(map[string]interface{}{"domain": domain, "rows": len(items)}).
		Info("roadmap saved")
	return nil
}

// GetByOwner returns the owner's initiatives in creation order with their
// projected schedule. Within each domain the first initiative starts today
// and each following one starts when the previous one finishes. An empty
// domain matches every domain.
func (s *ProjectStore) GetByOwner(ctx context.Context, owner, domain string) ([]ScheduledInitiative, error) {
	query := `
		SELECT id, owner_user, domain, COALESCE(phase, ''), COALESCE(initiative, ''),
			COALESCE(duration, 0), COALESCE(cost, 0), COALESCE(role, ''), COALESCE(kpi, ''),
			COALESCE(status, 'planned'), created_at, updated_at
		FROM projects WHERE owner_user = ?`
	args := []any{owner}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY id`

	var rows []ProjectInitiative
	err := s.m.RunReadOnly(ctx, "projects.get_by_owner", func(ctx context.Context, q Querier) error {
		rs, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return s.m.storageError("query projects", err)
		}
		defer rs.Close()

		for rs.Next() {
			var p ProjectInitiative
			if err := rs.Scan(
				&p.ID, &p.Owner, &p.Domain, &p.Phase, &p.Initiative,
				&p.Duration, &p.Cost, &p.Role, &p.KPI,
				&p.Status, &p.CreatedAt, &p.UpdatedAt,
			); err != nil {
				return fmt.Errorf("failed to scan project: %w", err)
			}
			rows = append(rows, p)
		}
		return rs.Err()
	})
	if err != nil {
		return nil, err
	}

	return schedule(rows, s.now()), nil
}

// schedule lays initiatives end to end per domain, starting at the day of
// now. Durations are whole months, rounded up, at least one.
func schedule(rows []ProjectInitiative, now time.Time) []ScheduledInitiative {
	anchor := now.UTC().Truncate(24 * time.Hour)
	next := map[string]time.Time{}

	out := make([]ScheduledInitiative, 0, len(rows))
	for _, p := range rows {
		start, ok := next[p.Domain]
		if !ok {
			start = anchor
		}
		finish := start.AddDate(0, durationMonths(p.Duration), 0)
		next[p.Domain] = finish
		out = append(out, ScheduledInitiative{ProjectInitiative: p, Start: start, Finish: finish})
	}
	return out
}

func durationMonths(d float64) int {
	if math.IsNaN(d) || d < 1 {
		return 1
	}
	return int(math.Ceil(d))
}

// DeleteByOwner removes every initiative of owner and reports how many went.
func (s *ProjectStore) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	var n int64
	err := s.m.RunUnitOfWork(ctx, "projects.delete_by_owner", func(ctx context.Context, q Querier) error {
		res, err := q.ExecContext(ctx, `DELETE FROM projects WHERE owner_user = ?`, owner)
		if err != nil {
			return s.m.storageError("delete projects", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.WithUsername(owner).WithField("count", n).Debug("projects deleted")
	return n, nil
}
