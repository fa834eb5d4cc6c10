package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mizan-grc/mizan/pkg/security"
	"github.com/mizan-grc/mizan/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one versioned schema step.
type migration struct {
	version uint
	name    string
	apply   func(ctx context.Context, q Querier) error
}

// columnRename maps a previous-generation column name to the current one.
type columnRename struct {
	table string
	from  string
	to    string
}

// legacyColumnRenames are applied by the rename_legacy_columns step. New
// entries belong in a new versioned step, not appended here.
var legacyColumnRenames = []columnRename{
	{table: "users", from: "password", to: "password_hash"},
}

// requiredColumns is the minimum layout the repositories read and write.
var requiredColumns = map[string][]string{
	"users": {
		"id", "username", "password_hash", "api_key", "email", "role", "is_active",
		"failed_attempts", "locked_until", "created_at", "updated_at", "last_login",
	},
	"risks": {
		"id", "owner_user", "domain", "asset_name", "threat", "probability", "impact",
		"risk_score", "risk_level", "mitigation", "status", "created_at", "updated_at",
	},
	"projects": {
		"id", "owner_user", "domain", "phase", "initiative", "duration", "cost",
		"role", "kpi", "status", "created_at", "updated_at",
	},
	"audit_log": {"id", "username", "action", "resource", "details", "ip_address", "user_agent", "created_at"},
	"sessions":  {"id", "username", "session_token", "expires_at", "created_at"},
}

// SchemaManager creates, evolves and seeds the database.
type SchemaManager struct {
	cfg        Config
	hasher     *security.Hasher
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
	migrations []migration
}

func newSchemaManager(cfg Config, hasher *security.Hasher, tel *telemetry.Telemetry, now func() time.Time) (*SchemaManager, error) {
	s := &SchemaManager{
		cfg:     cfg,
		hasher:  hasher,
		logger:  tel.Logger.NewComponentLogger("stores.schema"),
		metrics: tel.Metrics,
		now:     now,
	}

	steps, err := loadMigrations(migrationsFS, "migrations",
		migration{version: 2, name: "rename_legacy_columns", apply: s.renameLegacyColumns},
		migration{version: 4, name: "demote_extra_admins", apply: s.demoteExtraAdmins},
	)
	if err != nil {
		return nil, err
	}
	s.migrations = steps
	return s, nil
}

// loadMigrations reads the SQL steps through the golang-migrate iofs source
// and merges them with the Go steps, ordered by version.
func loadMigrations(fsys fs.FS, dir string, goSteps ...migration) ([]migration, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, &StorageError{Class: ClassMigration, Op: "open migration source", Err: err}
	}
	defer src.Close()

	var steps []migration
	version, err := src.First()
	for err == nil {
		step, readErr := readSQLMigration(src.ReadUp, version)
		if readErr != nil {
			return nil, readErr
		}
		steps = append(steps, step)
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, &StorageError{Class: ClassMigration, Op: "list migrations", Err: err}
	}

	steps = append(steps, goSteps...)

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	for i := 1; i < len(steps); i++ {
		if steps[i].version == steps[i-1].version {
			return nil, &StorageError{
				Class: ClassMigration,
				Op:    "list migrations",
				Err:   fmt.Errorf("duplicate migration version %d", steps[i].version),
			}
		}
	}
	return steps, nil
}

func readSQLMigration(readUp func(uint) (io.ReadCloser, string, error), version uint) (migration, error) {
	r, name, err := readUp(version)
	if err != nil {
		return migration{}, &StorageError{Class: ClassMigration, Op: fmt.Sprintf("read migration %d", version), Err: err}
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return migration{}, &StorageError{Class: ClassMigration, Op: fmt.Sprintf("read migration %d", version), Err: err}
	}

	stmt := string(body)
	return migration{
		version: version,
		name:    name,
		apply: func(ctx context.Context, q Querier) error {
			_, err := q.ExecContext(ctx, stmt)
			return err
		},
	}, nil
}

// Bootstrap brings the database to the current layout and provisions the
// administrator. It runs inside the caller's unit of work, so a failure at
// any step leaves the file as it was.
func (s *SchemaManager) Bootstrap(ctx context.Context, q Querier) error {
	if err := s.EnsureSchema(ctx, q); err != nil {
		return err
	}
	if err := s.verifyLayout(ctx, q); err != nil {
		return err
	}
	if err := s.EnsureDefaultAdmin(ctx, q); err != nil {
		return err
	}
	s.logger.Info("database schema initialized")
	return nil
}

// EnsureSchema applies every migration newer than the recorded version.
// Running it on an up-to-date database changes nothing.
func (s *SchemaManager) EnsureSchema(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return &StorageError{Class: ClassMigration, Op: "create schema_version", Err: err}
	}

	applied, err := appliedVersions(ctx, q)
	if err != nil {
		return err
	}

	for _, m := range s.migrations {
		if applied[m.version] {
			continue
		}
		if err := m.apply(ctx, q); err != nil {
			s.logger.WithError(err).Errorf("migration %04d_%s failed", m.version, m.name)
			return &StorageError{Class: ClassMigration, Op: fmt.Sprintf("apply migration %04d_%s", m.version, m.name), Err: err}
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, s.now().UTC(),
		); err != nil {
			return &StorageError{Class: ClassMigration, Op: "record migration", Err: err}
		}
		s.metrics.RecordMigrationApplied()
		s.logger.Infof("applied migration %04d_%s", m.version, m.name)
	}
	return nil
}

// renameLegacyColumns renames previous-generation columns in place. A table
// that already has the current name, or lacks the old one, is left alone.
func (s *SchemaManager) renameLegacyColumns(ctx context.Context, q Querier) error {
	for _, r := range legacyColumnRenames {
		cols, err := tableColumns(ctx, q, r.table)
		if err != nil {
			return err
		}
		if !cols[r.from] || cols[r.to] {
			s.logger.Debugf("no legacy column %s.%s to migrate", r.table, r.from)
			continue
		}
		s.logger.Infof("migrating legacy column %s.%s to %s", r.table, r.from, r.to)
		stmt := fmt.Sprintf(`ALTER TABLE %q RENAME COLUMN %q TO %q`, r.table, r.from, r.to)
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// demoteExtraAdmins gives every admin-role account other than the configured
// administrator the user role, so the single-admin index can be built.
func (s *SchemaManager) demoteExtraAdmins(ctx context.Context, q Querier) error {
	cols, err := tableColumns(ctx, q, "users")
	if err != nil {
		return err
	}
	if !cols["role"] {
		return nil
	}

	rows, err := q.QueryContext(ctx,
		`SELECT username FROM users WHERE lower(role) = 'admin' AND username <> ? ORDER BY id`,
		s.cfg.AdminUsername)
	if err != nil {
		return err
	}
	var demoted []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan admin account: %w", err)
		}
		demoted = append(demoted, username)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(demoted) == 0 {
		return nil
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE lower(role) = 'admin' AND username <> ?`,
		RoleUser, s.now().UTC(), s.cfg.AdminUsername,
	); err != nil {
		return err
	}
	for _, username := range demoted {
		s.logger.WithUsername(username).Warnf("demoted admin-role account to %s; only %s keeps the admin role", RoleUser, s.cfg.AdminUsername)
	}
	return nil
}

// verifyLayout rejects databases whose tables predate every known
// migration; they would otherwise fail on first use.
func (s *SchemaManager) verifyLayout(ctx context.Context, q Querier) error {
	tables := make([]string, 0, len(requiredColumns))
	for table := range requiredColumns {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		cols, err := tableColumns(ctx, q, table)
		if err != nil {
			return err
		}
		for _, col := range requiredColumns[table] {
			if !cols[col] {
				s.logger.Errorf("table %s lacks column %s", table, col)
				return fmt.Errorf("%w: table %s lacks column %s", ErrSchemaMismatch, table, col)
			}
		}
	}
	return nil
}

// EnsureDefaultAdmin creates the administrator account if it is missing.
func (s *SchemaManager) EnsureDefaultAdmin(ctx context.Context, q Querier) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, s.cfg.AdminUsername).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return newStorageError("look up admin account", err)
	}

	// A renamed administrator replaces the previous one.
	if err := s.demoteExtraAdmins(ctx, q); err != nil {
		return newStorageError("demote previous admin", err)
	}

	password := s.cfg.AdminPassword
	generated := password == ""
	if generated {
		if password, err = security.GenerateToken(12); err != nil {
			return err
		}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.cfg.AdminUsername, hash, RoleAdmin, now, now); err != nil {
		return newStorageError("create admin account", err)
	}

	logger := s.logger.WithUsername(s.cfg.AdminUsername)
	if generated {
		logger.WithField("password", password).Warn("created default admin user with a generated password")
	} else {
		logger.Info("created default admin user")
	}
	return nil
}

// AppliedMigrations lists the recorded schema versions, oldest first.
func (s *SchemaManager) AppliedMigrations(ctx context.Context, q Querier) ([]AppliedMigration, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, name, applied_at FROM schema_version ORDER BY version`)
	if err != nil {
		return nil, newStorageError("list schema versions", err)
	}
	defer rows.Close()

	applied := []AppliedMigration{}
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}
		applied = append(applied, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema versions: %w", err)
	}
	return applied, nil
}

// LatestVersion is the newest migration this build knows.
func (s *SchemaManager) LatestVersion() uint {
	if len(s.migrations) == 0 {
		return 0
	}
	return s.migrations[len(s.migrations)-1].version
}

func appliedVersions(ctx context.Context, q Querier) (map[uint]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, &StorageError{Class: ClassMigration, Op: "read schema_version", Err: err}
	}
	defer rows.Close()

	applied := map[uint]bool{}
	for rows.Next() {
		var v uint
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func tableColumns(ctx context.Context, q Querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, newStorageError("inspect table "+table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
