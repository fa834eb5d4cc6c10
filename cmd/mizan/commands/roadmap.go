package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mizan-grc/mizan/pkg/stores"
)

// roadmapFile is the YAML layout accepted by roadmap import.
type roadmapFile struct {
	Initiatives []stores.RoadmapItem `yaml:"initiatives"`
}

func newRoadmapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roadmap",
		Short: "Roadmap initiative management",
	}

	cmd.AddCommand(newRoadmapImportCommand())
	cmd.AddCommand(newRoadmapShowCommand())

	return cmd
}

func newRoadmapImportCommand() *cobra.Command {
	var owner, domain string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace an owner's roadmap for a domain",
		Long: `Replace the roadmap of one owner and domain with the initiatives in a YAML
file. The previous roadmap for that pair is removed in the same transaction,
so readers see either the old roadmap or the new one.`,
		Example: `  # roadmap.yaml
  initiatives:
    - phase: Foundation
      initiative: Asset inventory
      duration: 2
      cost: 15000
      role: IT Manager
      kpi: 100% of assets catalogued

  mizan roadmap import roadmap.yaml --owner alice --domain cyber`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read roadmap: %w", err)
			}
			var file roadmapFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse roadmap %s: %w", args[0], err)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			details := fmt.Sprintf("domain=%s rows=%d", domain, len(file.Initiatives))
			err = a.change(cmd.Context(), stores.ActionRoadmapSaved, "roadmap:"+owner, details, func(ctx context.Context) error {
				return a.store.Projects.SaveRoadmap(ctx, owner, domain, file.Initiatives)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d initiatives for %s/%s\n", len(file.Initiatives), owner, domain)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user")
	cmd.Flags().StringVar(&domain, "domain", "", "domain")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func newRoadmapShowCommand() *cobra.Command {
	var owner, domain string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an owner's roadmap with projected dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.store.Projects.GetByOwner(cmd.Context(), owner, domain)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, rows)
			}

			tw := newTable(out)
			fmt.Fprintln(tw, "DOMAIN\tPHASE\tINITIATIVE\tMONTHS\tCOST\tSTART\tFINISH\tSTATUS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%.0f\t%s\t%s\t%s\n",
					r.Domain, r.Phase, r.Initiative, r.Duration, r.Cost,
					r.Start.Format("2006-01-02"), r.Finish.Format("2006-01-02"), r.Status)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owning user")
	cmd.Flags().StringVar(&domain, "domain", "", "limit to one domain")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
