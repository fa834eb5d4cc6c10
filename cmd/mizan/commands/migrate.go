package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration management",
	}

	cmd.AddCommand(newMigrateStatusCommand())

	return cmd
}

func newMigrateStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := a.store.AppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, applied)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
			for _, m := range applied {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, m.AppliedAt.Format(timeLayout))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Latest known version: %d\n", a.store.LatestSchemaVersion())
			return nil
		},
	}

	return cmd
}
