package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for unit-of-work metrics.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
)

// Metrics provides Prometheus metrics for the persistence core.
type Metrics struct {
	config MetricsConfig

	unitsOfWork       *prometheus.CounterVec
	unitDuration      *prometheus.HistogramVec
	storageErrors     *prometheus.CounterVec
	auditFailures     prometheus.Counter
	migrationsApplied prometheus.Counter
	checkedOutConns   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		unitsOfWork: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "units_of_work_total",
				Help:      "Total number of storage units of work by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "unit_of_work_duration_seconds",
				Help:      "Duration of storage units of work in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		storageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of storage errors by class",
			},
			[]string{"class"},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "write_failures_total",
				Help:      "Audit events that could not be persisted",
			},
		),
		migrationsApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "migrations_applied_total",
				Help:      "Schema migrations applied by this process",
			},
		),
		checkedOutConns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "worker_connections",
				Help:      "Connections currently bound to a worker",
			},
		),
	}

	registry.MustRegister(
		m.unitsOfWork,
		m.unitDuration,
		m.storageErrors,
		m.auditFailures,
		m.migrationsApplied,
		m.checkedOutConns,
	)

	return m, nil
}

// RecordUnitOfWork records a finished unit of work with its outcome and duration.
func (m *Metrics) RecordUnitOfWork(operation, outcome string, duration time.Duration) {
	if m == nil || m.unitsOfWork == nil {
		return
	}
	m.unitsOfWork.WithLabelValues(operation, outcome).Inc()
	m.unitDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStorageError records a classified storage error.
func (m *Metrics) RecordStorageError(class string) {
	if m == nil || m.storageErrors == nil {
		return
	}
	m.storageErrors.WithLabelValues(class).Inc()
}

// RecordAuditFailure counts an audit event that was dropped.
func (m *Metrics) RecordAuditFailure() {
	if m == nil || m.auditFailures == nil {
		return
	}
	m.auditFailures.Inc()
}

// RecordMigrationApplied counts one applied schema migration.
func (m *Metrics) RecordMigrationApplied() {
	if m == nil || m.migrationsApplied == nil {
		return
	}
	m.migrationsApplied.Inc()
}

// WorkerConnectionOpened increments the bound worker connection gauge.
func (m *Metrics) WorkerConnectionOpened() {
	if m == nil || m.checkedOutConns == nil {
		return
	}
	m.checkedOutConns.Inc()
}

// WorkerConnectionClosed decrements the bound worker connection gauge.
func (m *Metrics) WorkerConnectionClosed() {
	if m == nil || m.checkedOutConns == nil {
		return
	}
	m.checkedOutConns.Dec()
}

// Registry returns the registry holding all collectors, or nil when
// metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
