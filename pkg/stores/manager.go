package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mizan-grc/mizan/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

// Querier is the statement surface handed to a unit of work. It is always
// the unit's transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type (
	workerKey struct{}
	txKey     struct{}
)

// worker is a connection slot bound to one execution context. The
// connection is opened on first use and kept until Checkin.
type worker struct {
	id   string
	mu   sync.Mutex
	conn *sql.Conn
}

// Manager owns the database handle and the transaction boundary.
type Manager struct {
	db      *sql.DB
	cfg     Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	closed  atomic.Bool
}

func newManager(ctx context.Context, cfg Config, tel *telemetry.Telemetry) (*Manager, error) {
	logger := tel.Logger.NewComponentLogger("stores.manager")

	db, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		return nil, &StorageError{Class: ClassConnectivity, Op: "open database", Err: err}
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.WithError(err).WithField("path", cfg.Path).Error("failed to connect to database")
		return nil, &StorageError{Class: ClassConnectivity, Op: "connect to database", Err: err}
	}

	return &Manager{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		metrics: tel.Metrics,
		tracer:  tel.Tracer,
	}, nil
}

// Checkout binds a connection slot to the returned context. Every unit of
// work run with that context (or one derived from it) uses the same
// physical connection, opened lazily on first use. Units of work on one
// worker are serialised. An empty workerID gets a generated one.
func (m *Manager) Checkout(ctx context.Context, workerID string) context.Context {
	if workerID == "" {
		workerID = uuid.NewString()
	}
	return context.WithValue(ctx, workerKey{}, &worker{id: workerID})
}

// Checkin releases the connection bound by Checkout. It is safe to call when
// no connection was ever opened or ctx carries no worker.
func (m *Manager) Checkin(ctx context.Context) error {
	w, ok := ctx.Value(workerKey{}).(*worker)
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	m.metrics.WorkerConnectionClosed()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("failed to release connection for worker %s: %w", w.id, err)
	}
	return nil
}

// acquire returns the connection for ctx and a release function that must
// be called when the unit of work is over.
func (m *Manager) acquire(ctx context.Context) (*sql.Conn, func(), error) {
	if m.closed.Load() {
		return nil, nil, ErrClosed
	}

	if w, ok := ctx.Value(workerKey{}).(*worker); ok {
		w.mu.Lock()
		if w.conn == nil {
			conn, err := m.open(ctx)
			if err != nil {
				w.mu.Unlock()
				return nil, nil, err
			}
			w.conn = conn
			m.metrics.WorkerConnectionOpened()
			m.logger.WithField("worker", w.id).Debug("worker connection opened")
		}
		return w.conn, w.mu.Unlock, nil
	}

	conn, err := m.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, func() { _ = conn.Close() }, nil
}

// open checks a connection out of the pool and configures it. Waiting for
// a free pool slot is bounded by the busy timeout, like a lock wait. The DSN
// already applies the pragmas to new physical connections; repeating them
// here covers connections recycled by the pool.
func (m *Manager) open(ctx context.Context) (*sql.Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.BusyTimeout)
	conn, err := m.db.Conn(waitCtx)
	cancel()
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		m.metrics.RecordStorageError(string(ClassContention))
		m.logger.WithError(err).
			WithField("max_open_conns", m.cfg.MaxOpenConns).
			Error("connection pool wait exceeded busy timeout")
		return nil, &StorageError{Class: ClassContention, Op: "acquire connection", Err: err}
	}
	if err != nil {
		m.metrics.RecordStorageError(string(ClassConnectivity))
		m.logger.WithError(err).Error("failed to acquire connection")
		return nil, &StorageError{Class: ClassConnectivity, Op: "acquire connection", Err: err}
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", m.cfg.BusyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			m.metrics.RecordStorageError(string(ClassConnectivity))
			m.logger.WithError(err).Errorf("failed to execute %q", pragma)
			return nil, &StorageError{Class: ClassConnectivity, Op: "configure connection", Err: err}
		}
	}

	return conn, nil
}

// RunUnitOfWork runs fn inside a transaction and commits when fn returns nil.
// Any error (or panic) from fn rolls the transaction back before it is
// returned. When ctx already carries a transaction fn joins it, and the
// outermost unit decides the outcome.
//
// The transaction takes the write lock when it begins (BEGIN IMMEDIATE).
//
// fn must use the context it is given, not the outer one: the transaction
// and, for bound workers, the connection lock travel with it.
func (m *Manager) RunUnitOfWork(ctx context.Context, operation string, fn func(ctx context.Context, q Querier) error) error {
	return m.run(ctx, operation, nil, fn)
}

// RunReadOnly is RunUnitOfWork for operations that only read. The
// transaction is deferred, so it reads a WAL snapshot and does not wait
// behind a writer. fn must not write.
func (m *Manager) RunReadOnly(ctx context.Context, operation string, fn func(ctx context.Context, q Querier) error) error {
	return m.run(ctx, operation, &sql.TxOptions{ReadOnly: true}, fn)
}

func (m *Manager) run(ctx context.Context, operation string, opts *sql.TxOptions, fn func(ctx context.Context, q Querier) error) (err error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx, tx)
	}

	conn, release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	id := uuid.NewString()
	ctx, span := m.tracer.StartUnitOfWorkSpan(ctx, id, operation)
	defer span.End()
	timer := telemetry.NewTimer()
	logger := m.logger.WithUnitOfWork(id, operation)

	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		serr := m.storageError("begin transaction", err)
		logger.WithError(err).Error("failed to begin transaction")
		telemetry.RecordError(span, serr)
		m.metrics.RecordUnitOfWork(operation, telemetry.OutcomeRolledBack, timer.Duration())
		return serr
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.WithError(rbErr).Error("rollback failed")
		}
		m.metrics.RecordUnitOfWork(operation, telemetry.OutcomeRolledBack, timer.Duration())
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		if class := ClassOf(err); class != "" {
			span.SetAttributes(telemetry.AttrErrorClass.String(string(class)))
		}
		telemetry.RecordError(span, err)
		logger.WithError(err).Debug("unit of work rolled back")
		return err
	}

	if err := tx.Commit(); err != nil {
		serr := m.storageError("commit transaction", err)
		logger.WithError(err).Error("failed to commit transaction")
		telemetry.RecordError(span, serr)
		return serr
	}
	committed = true

	m.metrics.RecordUnitOfWork(operation, telemetry.OutcomeCommitted, timer.Duration())
	telemetry.RecordSuccess(span)
	return nil
}

// storageError classifies and counts err. Contention is logged at error
// level.
func (m *Manager) storageError(op string, err error) *StorageError {
	var se *StorageError
	if errors.As(err, &se) {
		return se
	}
	se = newStorageError(op, err)
	m.metrics.RecordStorageError(string(se.Class))
	if se.Class == ClassContention {
		m.logger.WithError(err).WithField("op", op).Error("lock wait exceeded busy timeout")
	}
	return se
}

// Ping verifies the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.db.PingContext(ctx)
}

// Close closes the pool. Worker connections still checked out are closed
// as they are released.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.db.Close()
}
