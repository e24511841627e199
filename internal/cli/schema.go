package cli

import (
	"github.com/spf13/cobra"

	perrors "routeperf/internal/errors"
	"routeperf/internal/schema"
)

func newCreateTableCommand(app *App) *cobra.Command {
	var opts schema.Options
	cmd := &cobra.Command{
		Use:   "create-table",
		Short: "Create or update the route metrics table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := app.out()
			p.Title("routeperf - Create Metrics Table")
			return createTable(cmd, app, app.RoutesTable(), opts)
		},
	}
	addTableFlags(cmd, &opts)
	return cmd
}

func newCreateRecordsTableCommand(app *App) *cobra.Command {
	var opts schema.Options
	cmd := &cobra.Command{
		Use:   "create-records-table",
		Short: "Create or update the access records table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := app.out()
			p.Title("routeperf - Create Access Records Table")
			if !app.Config.EnableAccessRecords && !opts.Force {
				p.Note("Set APP_ENABLE_ACCESS_RECORDS=true, or pass --force to create the table anyway.")
				return perrors.New(perrors.CategoryConfig, "access records are disabled")
			}
			return createTable(cmd, app, app.RecordsTable(), opts)
		},
	}
	addTableFlags(cmd, &opts)
	return cmd
}

func addTableFlags(cmd *cobra.Command, opts *schema.Options) {
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "drop and recreate the table (deletes all data)")
	cmd.Flags().BoolVarP(&opts.Update, "update", "u", false, "add missing columns and fix differing ones without losing data")
	cmd.Flags().BoolVar(&opts.DropObsolete, "drop-obsolete", false, "with --update, also drop columns that are no longer defined")
}

func createTable(cmd *cobra.Command, app *App, t schema.Table, opts schema.Options) error {
	p := app.out()
	rc, err := app.Reconciler()
	if err != nil {
		return err
	}

	out, err := rc.CreateTable(cmd.Context(), t, opts)
	if err != nil {
		return err
	}
	reportOutcome(p, out)
	return nil
}

func reportOutcome(p printer, out schema.Outcome) {
	switch {
	case out.Skipped:
		p.Warning("Table %q already exists.", out.Table)
		p.Note("Use --update to add missing columns without losing data.")
		p.Note("Use --force to drop and recreate the table (WARNING: this deletes all data).")
	case out.Created:
		p.Success("Table %q created successfully!", out.Table)
	case out.Recreated:
		p.Warning("Dropped existing table %q.", out.Table)
		p.Success("Table %q created successfully!", out.Table)
	case out.Updated:
		for _, stmt := range out.Plan.Statements {
			p.Text("  %s", stmt)
		}
		p.Success("Table %q updated successfully!", out.Table)
	default:
		p.Success("Table %q: all columns are up to date. No changes needed.", out.Table)
	}
}

func newSyncSchemaCommand(app *App) *cobra.Command {
	var dropObsolete bool
	cmd := &cobra.Command{
		Use:   "sync-schema",
		Short: "Bring both tables in line with their definitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := app.out()
			p.Title("routeperf - Sync Schema")
			rc, err := app.Reconciler()
			if err != nil {
				return err
			}

			outcomes, err := rc.Sync(cmd.Context(), []schema.Table{app.RoutesTable(), app.RecordsTable()}, dropObsolete)
			for _, out := range outcomes {
				reportOutcome(p, out)
			}
			if err != nil {
				return perrors.Wrap(err, perrors.GetCategory(err), "sync failed")
			}
			p.Success("Schema sync completed for both tables.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dropObsolete, "drop-obsolete", false, "drop columns that are no longer defined")
	return cmd
}
