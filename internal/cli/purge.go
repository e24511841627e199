package cli

import (
	"time"

	"github.com/spf13/cobra"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
)

type purgeOptions struct {
	olderThan int
	all       bool
	env       string
	dryRun    bool
}

func newPurgeCommand(app *App) *cobra.Command {
	var opts purgeOptions
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete access records by age or all at once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPurge(cmd, app, opts, time.Now())
		},
	}
	cmd.Flags().IntVarP(&opts.olderThan, "older-than", "o", 0, "delete records older than this many days")
	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "delete all access records")
	cmd.Flags().StringVarP(&opts.env, "env", "e", "", "limit to one environment")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "count what would be deleted without deleting")
	return cmd
}

func runPurge(cmd *cobra.Command, app *App, opts purgeOptions, now time.Time) error {
	p := app.out()
	p.Title("routeperf - Purge Access Records")

	if !app.Config.EnableAccessRecords {
		return perrors.New(perrors.CategoryConfig, "access records are disabled; set APP_ENABLE_ACCESS_RECORDS=true")
	}
	_, records, err := app.Stores()
	if err != nil {
		return err
	}

	var env *string
	scope := ""
	if opts.env != "" {
		env = &opts.env
		scope = " for env \"" + opts.env + "\""
	}
	ctx := cmd.Context()

	if opts.all {
		if opts.dryRun {
			n, err := records.CountAll(ctx, env)
			if err != nil {
				return err
			}
			p.Warning("Dry-run: would delete all %d access record(s)%s.", n, scope)
			p.Note("Run without --dry-run to actually delete.")
			return nil
		}
		n, err := records.DeleteAll(ctx, env)
		if err != nil {
			return err
		}
		p.Success("Deleted %d access record(s)%s.", n, scope)
		return nil
	}

	days := opts.olderThan
	if !cmd.Flags().Changed("older-than") {
		days = app.Config.AccessRecordsRetentionDays
		if days == 0 {
			return perrors.New(perrors.CategoryValidation,
				"no retention configured and --older-than not specified; set APP_ACCESS_RECORDS_RETENTION_DAYS or use --older-than=N or --all")
		}
	}
	if days < 1 {
		return perrors.New(perrors.CategoryValidation, "days must be at least 1")
	}

	cutoff := db.RetentionCutoff(now, days)
	if opts.dryRun {
		n, err := records.CountOlderThan(ctx, cutoff, env)
		if err != nil {
			return err
		}
		p.Warning("Dry-run: would delete %d record(s) older than %s (%d days)%s.", n, cutoff.Format("2006-01-02 15:04"), days, scope)
		p.Note("Run without --dry-run to actually delete.")
		return nil
	}
	n, err := records.DeleteOlderThan(ctx, cutoff, env)
	if err != nil {
		return err
	}
	p.Success("Deleted %d access record(s) older than %s (%d days)%s.", n, cutoff.Format("2006-01-02"), days, scope)
	return nil
}
