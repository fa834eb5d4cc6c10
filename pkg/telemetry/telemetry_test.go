package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("stores").
		WithUsername("alice").
		WithUnitOfWork("uow-1", "users.create").
		WithError(errors.New("boom")).
		Warn("something happened")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "stores", line["component"])
	assert.Equal(t, "alice", line["username"])
	assert.Equal(t, "uow-1", line["uow_id"])
	assert.Equal(t, "users.create", line["operation"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "something happened", line["message"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Debugf("hidden %d", 1)
	assert.Zero(t, buf.Len())

	logger.Errorf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestLoggerContext(t *testing.T) {
	logger := NewNopLogger()
	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	require.NoError(t, err)

	m.RecordUnitOfWork("users.create", OutcomeCommitted, 5*time.Millisecond)
	m.RecordUnitOfWork("users.create", OutcomeRolledBack, time.Millisecond)
	m.RecordUnitOfWork("users.create", OutcomeCommitted, time.Millisecond)
	m.RecordStorageError("contention")
	m.RecordAuditFailure()
	m.RecordMigrationApplied()
	m.WorkerConnectionOpened()
	m.WorkerConnectionOpened()
	m.WorkerConnectionClosed()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.unitsOfWork.WithLabelValues("users.create", OutcomeCommitted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.unitsOfWork.WithLabelValues("users.create", OutcomeRolledBack)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.storageErrors.WithLabelValues("contention")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.auditFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.migrationsApplied))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.checkedOutConns))

	count, err := testutil.GatherAndCount(m.Registry(), "test_store_unit_of_work_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsDisabledAndNil(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, m.Registry())

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		m.RecordUnitOfWork("x", OutcomeCommitted, time.Second)
		m.RecordAuditFailure()
		nilMetrics.RecordStorageError("internal")
		nilMetrics.WorkerConnectionClosed()
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 2
	assert.Error(t, cfg.Validate())
}

func TestTracerSpans(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "mizan", "test", "test")
	require.NoError(t, err)
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.StartUnitOfWorkSpan(context.Background(), "uow-1", "stats.get")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	assert.Empty(t, TraceID(context.Background()))

	nop := NewNopTracer()
	_, span = nop.StartSpan(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
}
