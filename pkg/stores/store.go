package stores

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mizan-grc/mizan/pkg/security"
	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// Store is the persistence core: one database, its schema and the
// repositories over it. Construct it once per process with Open and share
// it; every method is safe for concurrent use.
type Store struct {
	Users    *UserStore
	Risks    *RiskStore
	Projects *ProjectStore
	Sessions *SessionStore
	Audit    *AuditStore
	Stats    *StatsService

	manager *Manager
	schema  *SchemaManager
	logger  *telemetry.Logger
}

// Option customises Open.
type Option func(*options)

type options struct {
	telemetry *telemetry.Telemetry
	now       func() time.Time
	hasher    *security.Hasher
	validate  *validator.Validate
}

// WithTelemetry sets the logger, tracer and metrics used by the store.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHasher overrides the password hasher built from Config.BcryptCost.
func WithHasher(h *security.Hasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithValidator shares a validator instance with the caller.
func WithValidator(v *validator.Validate) Option {
	return func(o *options) { o.validate = v }
}

// Open connects to the database at cfg.Path, migrates it to the current
// schema and provisions the admin account. Nothing is served until all of
// that has committed.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.telemetry == nil {
		o.telemetry = telemetry.NewNop()
	}
	if o.validate == nil {
		o.validate = validator.New()
	}
	if o.hasher == nil {
		o.hasher = security.NewHasher(cfg.BcryptCost)
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(o.validate); err != nil {
		return nil, err
	}

	logger := o.telemetry.Logger.NewComponentLogger("stores")

	m, err := newManager(ctx, cfg, o.telemetry)
	if err != nil {
		return nil, err
	}

	schema, err := newSchemaManager(cfg, o.hasher, o.telemetry, o.now)
	if err != nil {
		_ = m.Close()
		return nil, err
	}

	if err := m.RunUnitOfWork(ctx, "schema.bootstrap", schema.Bootstrap); err != nil {
		_ = m.Close()
		logger.WithError(err).Error("failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Store{
		manager: m,
		schema:  schema,
		logger:  logger,
	}
	s.Audit = &AuditStore{
		m:       m,
		logger:  o.telemetry.Logger.NewComponentLogger("stores.audit"),
		metrics: o.telemetry.Metrics,
		now:     o.now,
	}
	s.Risks = &RiskStore{
		m:        m,
		validate: o.validate,
		logger:   o.telemetry.Logger.NewComponentLogger("stores.risks"),
		now:      o.now,
	}
	s.Projects = &ProjectStore{
		m:        m,
		validate: o.validate,
		logger:   o.telemetry.Logger.NewComponentLogger("stores.projects"),
		now:      o.now,
	}
	s.Sessions = &SessionStore{
		m:      m,
		cfg:    cfg,
		logger: o.telemetry.Logger.NewComponentLogger("stores.sessions"),
		now:    o.now,
		audit:  s.Audit,
	}
	s.Users = &UserStore{
		m:        m,
		cfg:      cfg,
		hasher:   o.hasher,
		validate: o.validate,
		logger:   o.telemetry.Logger.NewComponentLogger("stores.users"),
		now:      o.now,
		cascade:  []ownerPurger{s.Risks, s.Projects, s.Sessions},
		audit:    s.Audit,
	}
	s.Stats = &StatsService{m: m}

	logger.WithField("path", cfg.Path).Info("store ready")
	return s, nil
}

// RunUnitOfWork groups repository calls made with the context passed to fn
// into one transaction.
func (s *Store) RunUnitOfWork(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return s.manager.RunUnitOfWork(ctx, operation, func(ctx context.Context, _ Querier) error {
		return fn(ctx)
	})
}

// Checkout binds a dedicated connection to the returned context; see
// Manager.Checkout. Release it with Checkin.
func (s *Store) Checkout(ctx context.Context, workerID string) context.Context {
	return s.manager.Checkout(ctx, workerID)
}

// Checkin releases the connection bound by Checkout.
func (s *Store) Checkin(ctx context.Context) error {
	return s.manager.Checkin(ctx)
}

// AppliedMigrations lists the schema versions recorded in the database.
func (s *Store) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	var applied []AppliedMigration
	err := s.manager.RunReadOnly(ctx, "schema.applied", func(ctx context.Context, q Querier) error {
		var err error
		applied, err = s.schema.AppliedMigrations(ctx, q)
		return err
	})
	return applied, err
}

// LatestSchemaVersion is the newest migration this build knows.
func (s *Store) LatestSchemaVersion() uint {
	return s.schema.LatestVersion()
}

// HealthCheck verifies the database answers.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.manager.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the database. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	if err := s.manager.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Debug("store closed")
	return nil
}

// Provider opens a Store on first use and hands the same instance to every
// caller after that.
type Provider struct {
	cfg  Config
	opts []Option

	mu    sync.Mutex
	store *Store
}

// NewProvider returns a provider for cfg. Nothing is opened yet.
func NewProvider(cfg Config, opts ...Option) *Provider {
	return &Provider{cfg: cfg, opts: opts}
}

// Get returns the shared store, opening it if needed. A failed open is not
// cached; the next call tries again.
func (p *Provider) Get(ctx context.Context) (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store != nil {
		return p.store, nil
	}
	s, err := Open(ctx, p.cfg, p.opts...)
	if err != nil {
		return nil, err
	}
	p.store = s
	return s, nil
}

// Close closes the shared store if it was opened.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	return err
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
