package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mizan-grc/mizan/pkg/stores"
)

func newRiskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk register management",
	}

	cmd.AddCommand(newRiskAddCommand())
	cmd.AddCommand(newRiskListCommand())
	cmd.AddCommand(newRiskStatusCommand())
	cmd.AddCommand(newRiskClearCommand())

	return cmd
}

func newRiskAddCommand() *cobra.Command {
	var r stores.RiskEntry

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a risk assessment",
		Long: `Record one risk. The score is probability x impact, both clamped to 1..5,
and the level is banded from the score: 15 and above CRITICAL, 10 HIGH,
5 MEDIUM, anything lower LOW.`,
		Example: `  mizan risk add --owner alice --domain cyber --asset "Customer portal" \
    --threat "Credential stuffing" --probability 4 --impact 5 --mitigation "Enforce MFA"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			r.RiskScore, r.RiskLevel = stores.ScoreRisk(r.Probability, r.Impact)

			var created *stores.RiskEntry
			err = a.change(cmd.Context(), stores.ActionRiskCreated, "risks:"+r.Owner, r.Domain, func(ctx context.Context) error {
				var err error
				created, err = a.store.Risks.Create(ctx, r)
				return err
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Risk %d recorded: score %d (%s)\n",
				created.ID, created.RiskScore, created.RiskLevel)
			return nil
		},
	}

	cmd.Flags().StringVar(&r.Owner, "owner", "", "owning user")
	cmd.Flags().StringVar(&r.Domain, "domain", "", "domain (cyber, data, ai, ...)")
	cmd.Flags().StringVar(&r.AssetName, "asset", "", "asset name")
	cmd.Flags().StringVar(&r.Threat, "threat", "", "threat description")
	cmd.Flags().IntVarP(&r.Probability, "probability", "p", 1, "probability 1-5")
	cmd.Flags().IntVarP(&r.Impact, "impact", "i", 1, "impact 1-5")
	cmd.Flags().StringVar(&r.Mitigation, "mitigation", "", "mitigation plan")
	cmd.Flags().StringVar(&r.Field1, "field1", "", "domain-specific attribute")
	cmd.Flags().StringVar(&r.Field2, "field2", "", "domain-specific attribute")
	cmd.Flags().StringVar(&r.Field3, "field3", "", "domain-specific attribute")
	cmd.Flags().StringVar(&r.Field4, "field4", "", "domain-specific attribute")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func newRiskListCommand() *cobra.Command {
	var owner, domain string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's risks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			risks, err := a.store.Risks.GetByOwner(cmd.Context(), owner, domain)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, risks)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tDOMAIN\tASSET\tTHREAT\tP\tI\tSCORE\tLEVEL\tSTATUS")
			for _, r := range risks {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Domain, r.AssetName, r.Threat, r.Probability, r.Impact, r.RiskScore, r.RiskLevel, r.Status)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user")
	cmd.Flags().StringVar(&domain, "domain", "", "limit to one domain")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func newRiskStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status ID STATUS",
		Short:   "Change a risk's status",
		Example: `  mizan risk status 12 mitigated`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid risk id %q: %w", args[0], err)
			}
			status := args[1]

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.change(cmd.Context(), stores.ActionRiskUpdated, "risk:"+args[0], "status="+status, func(ctx context.Context) error {
				return a.store.Risks.UpdateStatus(ctx, id, status)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Risk %d is now %s\n", id, status)
			return nil
		},
	}

	return cmd
}

func newRiskClearCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all of an owner's risks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var n int64
			err = a.change(cmd.Context(), stores.ActionRisksCleared, "risks:"+owner, "", func(ctx context.Context) error {
				var err error
				n, err = a.store.Risks.DeleteByOwner(ctx, owner)
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d risks of %s\n", n, owner)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
