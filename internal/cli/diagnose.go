package cli

import (
	"strings"

	"github.com/spf13/cobra"

	perrors "routeperf/internal/errors"
	"routeperf/internal/querytrack"
	"routeperf/internal/schema"
)

func newDiagnoseCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Show configuration, table status and query tracking status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiagnose(cmd, app)
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runDiagnose(cmd *cobra.Command, app *App) error {
	cfg := app.Config
	p := app.out()
	p.Title("routeperf - Diagnostic")

	p.Text("")
	p.Text("Configuration")
	p.Table([]string{"Setting", "Value"}, [][]string{
		{"Enabled", yesNo(cfg.Enabled)},
		{"Environment", cfg.Env},
		{"Environments", strings.Join(cfg.Environments, ", ")},
		{"Driver", orDash(cfg.Driver())},
		{"Table", cfg.TableName},
		{"Track queries", yesNo(cfg.TrackQueries)},
		{"Track request time", yesNo(cfg.TrackRequestTime)},
		{"Tracked status codes", joinInts(cfg.TrackStatusCodes)},
		{"Sampling rate", formatFloat(cfg.SamplingRate, 2)},
		{"Async", yesNo(cfg.Async)},
		{"Access records", yesNo(cfg.EnableAccessRecords)},
		{"Retention days", formatInt(cfg.AccessRecordsRetentionDays)},
	})

	rc, err := app.Reconciler()
	if err != nil {
		return err
	}
	tables := []schema.Table{app.RoutesTable()}
	if cfg.EnableAccessRecords {
		tables = append(tables, app.RecordsTable())
	}

	p.Text("")
	p.Text("Database Tables (dialect: %s)", rc.Dialect().Name())
	statuses := make([]schema.TableStatus, 0, len(tables))
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		st, err := rc.Status(t)
		if err != nil {
			return perrors.Wrap(err, perrors.CategoryPersistence, "inspect table "+t.Name)
		}
		statuses = append(statuses, st)
		missing := "-"
		if len(st.MissingColumns) > 0 {
			missing = strings.Join(st.MissingColumns, ", ")
		}
		rows = append(rows, []string{st.Table, yesNo(st.Exists), yesNo(st.Complete), missing})
	}
	p.Table([]string{"Table", "Exists", "Complete", "Missing columns"}, rows)

	for i, st := range statuses {
		create, update := "routeperf create-table", "routeperf create-table --update"
		if i == 1 {
			create, update = "routeperf create-records-table", "routeperf sync-schema or routeperf create-records-table --update"
		}
		switch {
		case !st.Exists:
			p.Note("%s: %s", st.Table, create)
		case !st.Complete:
			p.Note("%s: %s", st.Table, update)
		}
	}

	p.Text("")
	p.Text("Query Tracking")
	if !cfg.Enabled || !cfg.TrackQueries {
		p.Warning("Query tracking is disabled in configuration.")
		p.Note("To enable: set APP_ENABLED=true and APP_TRACK_QUERIES=true")
		return nil
	}

	gdb, err := app.DB()
	if err != nil {
		return err
	}
	if !querytrack.Registered(gdb) {
		return perrors.New(perrors.CategoryInternal, "query tracking is enabled but the gorm plugin is not registered")
	}
	p.Success("Query tracking plugin is registered.")

	// One test statement must be counted exactly once.
	ctx, counter := querytrack.WithCounter(cmd.Context())
	var one int
	if err := gdb.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return perrors.Wrap(err, perrors.CategoryPersistence, "run test query")
	}
	p.Text("Test query count: %d", counter.Count())
	p.Text("Test query time: %.4f seconds", counter.Duration().Seconds())
	if counter.Count() == 1 {
		p.Success("Queries are being counted.")
	} else {
		p.Warning("Expected the test query to be counted once, got %d.", counter.Count())
	}
	return nil
}
