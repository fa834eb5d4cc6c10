package telemetry_test

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates component loggers and fields.
func Example_structuredLogging() {
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "info", Format: "json"}, os.Stdout)

	logger.NewComponentLogger("stores.users").
		WithUsername("alice").
		WithUnitOfWork("uow-1", "users.create").
		Info("user created")

	// Output varies with the timestamp, no output specified
}

// Example_unitOfWork demonstrates instrumenting one storage transaction.
func Example_unitOfWork() {
	tel := telemetry.NewNop()

	ctx, span := tel.Tracer.StartUnitOfWorkSpan(context.Background(), "uow-1", "risks.create")
	defer span.End()
	timer := telemetry.NewTimer()

	err := insertRisk(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		tel.Metrics.RecordUnitOfWork("risks.create", telemetry.OutcomeRolledBack, timer.Duration())
		return
	}
	telemetry.RecordSuccess(span)
	tel.Metrics.RecordUnitOfWork("risks.create", telemetry.OutcomeCommitted, timer.Duration())
}

func insertRisk(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

// Example_errorRecording demonstrates counting failures by class.
func Example_errorRecording() {
	tel := telemetry.NewNop()
	logger := tel.Logger.NewComponentLogger("stores.manager")

	err := errors.New("database is locked")
	logger.WithError(err).Error("lock wait exceeded busy timeout")
	tel.Metrics.RecordStorageError("contention")
}
