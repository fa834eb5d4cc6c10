// Package telemetry provides the observability plumbing shared by the Mizan
// persistence core and its command-line front end.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry) and
// Prometheus metrics behind a single Telemetry value:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	logger := tel.Logger.NewComponentLogger("stores.users")
//	logger.WithUsername("alice").Info("user created")
//
// # Metrics
//
// Metrics are registered on a private registry exposed through Registry so an
// embedding process can serve or scrape them. Every recording method is a
// no-op when metrics are disabled, so callers never need nil checks.
//
// # Tracing
//
// Each storage unit of work runs inside a span started by
// Tracer.StartUnitOfWorkSpan. With tracing disabled the tracer is backed by a
// no-op provider.
package telemetry
