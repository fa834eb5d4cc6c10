package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the database",
		Long: `Create the database file if it does not exist, apply pending schema
migrations and provision the administrator account.

Running init on an up-to-date database changes nothing.`,
		Example: `  # Initialize the default database (sentinel.db)
  mizan init

  # Initialize a database at a custom location
  MIZAN_DB_PATH=/var/lib/mizan/mizan.db mizan init`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().
				Str("path", a.cfg.Database.Path).
				Uint("schema_version", a.store.LatestSchemaVersion()).
				Msg("Database ready")

			fmt.Fprintf(cmd.OutOrStdout(), "Database %s is at schema version %d\n",
				a.cfg.Database.Path, a.store.LatestSchemaVersion())
			return nil
		},
	}

	return cmd
}
