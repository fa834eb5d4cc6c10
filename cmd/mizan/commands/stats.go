package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store-wide counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats.Get(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, stats)
			}

			fmt.Fprintf(out, "Users:    %d\n", stats.UserCount)
			fmt.Fprintf(out, "Risks:    %d\n", stats.RiskCount)
			fmt.Fprintf(out, "Projects: %d\n", stats.ProjectCount)
			tw := newTable(out)
			fmt.Fprintln(tw, "\nUSERNAME\tROLE")
			for _, u := range stats.Users {
				fmt.Fprintf(tw, "%s\t%s\n", u.Username, u.Role)
			}
			return tw.Flush()
		},
	}

	return cmd
}
