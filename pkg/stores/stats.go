package stores

import (
	"context"
	"fmt"
)

// StatsService computes store-wide aggregates.
type StatsService struct {
	m *Manager
}

// Get returns user, risk and project counts plus the username/role list,
// all read in one transaction. Rows whose owner no longer exists are not
// counted.
func (s *StatsService) Get(ctx context.Context) (*Stats, error) {
	stats := &Stats{Users: []UserRole{}}
	err := s.m.RunReadOnly(ctx, "stats.get", func(ctx context.Context, q Querier) error {
		err := q.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM users),
				(SELECT COUNT(*) FROM risks r WHERE EXISTS (SELECT 1 FROM users u WHERE u.username = r.owner_user)),
				(SELECT COUNT(*) FROM projects p WHERE EXISTS (SELECT 1 FROM users u WHERE u.username = p.owner_user))
		`).Scan(&stats.UserCount, &stats.RiskCount, &stats.ProjectCount)
		if err != nil {
			return s.m.storageError("count rows", err)
		}

		rows, err := q.QueryContext(ctx, `SELECT username, COALESCE(role, 'user') FROM users ORDER BY id`)
		if err != nil {
			return s.m.storageError("list user roles", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ur UserRole
			if err := rows.Scan(&ur.Username, &ur.Role); err != nil {
				return fmt.Errorf("failed to scan user role: %w", err)
			}
			stats.Users = append(stats.Users, ur)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
