package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mizan-grc/mizan/pkg/stores"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log inspection",
	}

	cmd.AddCommand(newAuditTailCommand())

	return cmd
}

func newAuditTailCommand() *cobra.Command {
	var (
		limit    int
		username string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		Example: `  # Last 20 events
  mizan audit tail -n 20

  # Events naming one user
  mizan audit tail --user alice`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var events []stores.AuditEvent
			if username != "" {
				events, err = a.store.Audit.ListByUser(cmd.Context(), username, limit)
			} else {
				events, err = a.store.Audit.GetRecent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, events)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "TIME\tUSER\tACTION\tRESOURCE\tDETAILS")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(timeLayout), deref(e.Username), e.Action, deref(e.Resource), deref(e.Details))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", stores.DefaultAuditLimit, "maximum number of events")
	cmd.Flags().StringVar(&username, "user", "", "only events naming this user")

	return cmd
}
