package main

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/brokerwire/callstats/internal/config"
	"github.com/brokerwire/callstats/internal/models"
	"github.com/brokerwire/callstats/internal/reports"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "callstats %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		},
	}
}

func (a *app) newGenerateCmd() *cobra.Command {
	var orgID, date string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate reports now",
		Long: `Generate the report for one organization, or for every active
organization when --org is omitted. The date defaults to yesterday in each
organization's timezone. Existing reports are left unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sched, err := a.scheduler(ctx)
			if err != nil {
				return err
			}
			var target *string
			if date != "" {
				target = &date
			}
			out := cmd.OutOrStdout()

			if orgID != "" {
				res, err := sched.TriggerSingle(ctx, orgID, target)
				if err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("generate %s: %s", res.OrgID, res.Error)
				}
				fmt.Fprintf(out, "%s %s: ok\n", res.OrgID, res.ReportDate)
				return nil
			}

			res, err := sched.TriggerAll(ctx, target)
			if err != nil {
				return err
			}
			for _, r := range res.Results {
				fmt.Fprintf(out, "%-20s %s\n", r.OrgID, outcome(r.Success))
			}
			fmt.Fprintf(out, "%d generated, %d failed (%s)\n", res.Generated, res.Failed, res.Status)
			if res.Failed > 0 {
				return fmt.Errorf("%d organizations failed", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (default: all active organizations)")
	cmd.Flags().StringVar(&date, "date", "", "Report date, YYYY-MM-DD (default: yesterday)")
	return cmd
}

func (a *app) newBackfillCmd() *cobra.Command {
	var orgID, start, end string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate reports for a range of dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sched, err := a.scheduler(ctx)
			if err != nil {
				return err
			}
			res, err := sched.Backfill(ctx, orgID, start, end)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range res.Results {
				fmt.Fprintf(out, "%s %s\n", r.Date, outcome(r.Success))
			}
			fmt.Fprintf(out, "%s: %d of %d days generated\n", res.OrgID, res.Successful, res.TotalDays)
			if res.Failed > 0 {
				return fmt.Errorf("%d days failed", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (required)")
	cmd.Flags().StringVar(&start, "start", "", "First date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "Last date, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func (a *app) newGapsCmd() *cobra.Command {
	var orgID string
	var days int

	cmd := &cobra.Command{
		Use:   "gaps",
		Short: "List missing report dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				cfg, err := a.config()
				if err != nil {
					return err
				}
				days = cfg.Scheduler.CatchupDays
			}

			var orgs []*models.Organization
			if orgID != "" {
				org, err := store.GetOrganization(ctx, orgID)
				if err != nil {
					return fmt.Errorf("get organization %s: %w", orgID, err)
				}
				orgs = append(orgs, org)
			} else if orgs, err = store.ListOrganizations(ctx, true); err != nil {
				return err
			}

			detector := reports.NewGapDetector(store)
			out := cmd.OutOrStdout()
			for _, org := range orgs {
				missing, err := detector.MissingDates(ctx, org, days)
				if err != nil {
					return err
				}
				if len(missing) == 0 {
					fmt.Fprintf(out, "%-20s complete\n", org.OrgID)
					continue
				}
				fmt.Fprintf(out, "%-20s %s\n", org.OrgID, strings.Join(missing, " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization ID (default: all active organizations)")
	cmd.Flags().IntVar(&days, "days", 7, "Days to look back (default: SCHEDULER_CATCHUP_DAYS)")
	return cmd
}

func (a *app) newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent scheduler runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			runs, err := store.GetRecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No scheduler runs recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s  %-14s %-8s %3d reports", r.StartedAt.Format("2006-01-02 15:04:05Z07:00"), r.RunKind, r.Status, r.ReportsGenerated)
				if r.ErrorMessage != nil {
					fmt.Fprintf(out, "  %s", *r.ErrorMessage)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs to show")
	return cmd
}

func (a *app) newOrgsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "Manage organizations",
	}
	cmd.AddCommand(
		a.newOrgsListCmd(),
		a.newOrgsImportCmd(),
		a.newOrgsExportCmd(),
	)
	return cmd
}

func (a *app) newOrgsListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			orgs, err := store.ListOrganizations(ctx, !all)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(orgs) == 0 {
				fmt.Fprintln(out, "No organizations")
				return nil
			}
			for _, o := range orgs {
				state := "active"
				if !o.IsActive {
					state = "inactive"
				}
				fmt.Fprintf(out, "%-20s %-30s %-24s %s\n", o.OrgID, o.Name, o.Timezone, state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include inactive organizations")
	return cmd
}

func (a *app) newOrgsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create organizations from a YAML seed file",
		Long: `Create every organization in the file that does not exist yet.
Existing organizations are left unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			cfg, err := a.config()
			if err != nil {
				return err
			}

			f, err := config.LoadOrgsFile(args[0])
			if err != nil {
				return err
			}
			if len(f.Organizations) == 0 {
				return errors.New("no organizations in file")
			}

			out := cmd.OutOrStdout()
			created := 0
			for _, e := range f.Organizations {
				ok, err := store.EnsureOrganization(ctx, e.Organization(cfg.Seed.Timezone))
				if err != nil {
					return fmt.Errorf("import %s: %w", e.OrgID, err)
				}
				if ok {
					created++
					fmt.Fprintf(out, "created  %s\n", e.OrgID)
				} else {
					fmt.Fprintf(out, "exists   %s\n", e.OrgID)
				}
			}
			fmt.Fprintf(out, "%d created, %d already present\n", created, len(f.Organizations)-created)
			return nil
		},
	}
}

func (a *app) newOrgsExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write all organizations to a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			orgs, err := store.ListOrganizations(ctx, false)
			if err != nil {
				return err
			}

			f := &config.OrgsFile{Organizations: make([]config.OrgEntry, 0, len(orgs))}
			for _, o := range orgs {
				active := o.IsActive
				f.Organizations = append(f.Organizations, config.OrgEntry{
					OrgID:        o.OrgID,
					Name:         o.Name,
					SourceNodeID: o.SourceNodeID,
					Timezone:     o.Timezone,
					Active:       &active,
				})
			}
			if err := f.Save(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d organizations to %s\n", len(orgs), args[0])
			return nil
		},
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}
