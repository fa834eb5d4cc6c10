package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	envFile    string
	actorName  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mizan",
		Short: "Mizan - governance, risk and compliance data store",
		Long: `Mizan manages the data behind the GRC workbench: user accounts, the risk
register, roadmap initiatives and the security audit trail.

All commands work directly on the embedded database. The schema is created
and migrated automatically on first use, and the administrator account is
provisioned if it does not exist. Every change is recorded in the audit log.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&actorName, "as", "", "username recorded in the audit log (default: the admin account)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newUserCommand())
	rootCmd.AddCommand(newRiskCommand())
	rootCmd.AddCommand(newRoadmapCommand())
	rootCmd.AddCommand(newAuditCommand())
	rootCmd.AddCommand(newStatsCommand())

	return rootCmd
}
