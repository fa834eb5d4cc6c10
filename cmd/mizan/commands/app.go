package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mizan-grc/mizan/pkg/config"
	"github.com/mizan-grc/mizan/pkg/stores"
	"github.com/mizan-grc/mizan/pkg/telemetry"
)

// app is what a command needs to talk to the store.
type app struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *stores.Store
}

// openApp loads configuration and opens the store, migrating it if needed.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: configPath, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.UsesDefaultAdminPassword() {
		log.Warn().
			Str("username", cfg.Security.AdminUsername).
			Msg("Using the built-in admin password; set MIZAN_ADMIN_PASSWORD before first start")
	}

	store, err := stores.Open(cmd.Context(), cfg.StoreConfig(), stores.WithTelemetry(tel))
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	return &app{cfg: cfg, tel: tel, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close store")
	}
	if err := a.tel.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shut down telemetry")
	}
}

// actor is the username attributed to changes made by this invocation.
func (a *app) actor() string {
	if actorName != "" {
		return actorName
	}
	return a.cfg.Security.AdminUsername
}

// change runs fn and appends an audit event in the same unit of work. When
// fn fails the change rolls back and a rejection event is appended on its
// own, so refused actions stay on record.
func (a *app) change(ctx context.Context, action, resource, details string, fn func(ctx context.Context) error) error {
	err := a.store.RunUnitOfWork(ctx, "cli."+strings.ToLower(action), func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		a.store.Audit.Log(ctx, a.event(action, resource, details))
		return nil
	})
	if err != nil {
		a.store.Audit.Log(ctx, a.event(action+rejectedSuffix, resource, err.Error()))
	}
	return err
}

// rejectedSuffix marks the audit action of a refused change.
const rejectedSuffix = "_REJECTED"

func (a *app) event(action, resource, details string) stores.AuditEvent {
	e := stores.AuditEvent{
		Username:  stores.StringPtr(a.actor()),
		Action:    action,
		Resource:  stores.StringPtr(resource),
		UserAgent: stores.StringPtr("mizan-cli"),
	}
	if details != "" {
		e.Details = stores.StringPtr(details)
	}
	return e
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

const timeLayout = "2006-01-02 15:04"
