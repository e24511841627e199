package cli

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
	"routeperf/internal/perf"
)

type routeMetricsOptions struct {
	env         string
	requestTime float64
	queries     int
	queryTime   float64
	memory      int64
	method      string
	params      string
}

func newSetRouteMetricsCommand(app *App) *cobra.Command {
	var opts routeMetricsOptions
	cmd := &cobra.Command{
		Use:   "set-route-metrics <route>",
		Short: "Record metrics for a route by hand",
		Long: "Record metrics for a route by hand. The values go through the same upsert as\n" +
			"live samples, so they only replace stored metrics when they are worse.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.sample(cmd, args[0], time.Now())
			if err != nil {
				return err
			}
			return runSetRouteMetrics(cmd, app, s)
		},
	}
	cmd.Flags().StringVarP(&opts.env, "env", "e", "dev", "environment")
	cmd.Flags().Float64VarP(&opts.requestTime, "request-time", "r", 0, "request time in seconds")
	cmd.Flags().IntVar(&opts.queries, "queries", 0, "total number of queries")
	cmd.Flags().Float64VarP(&opts.queryTime, "query-time", "t", 0, "total query time in seconds")
	cmd.Flags().Int64Var(&opts.memory, "memory", 0, "peak memory in bytes")
	cmd.Flags().StringVar(&opts.method, "method", "", "HTTP method")
	cmd.Flags().StringVarP(&opts.params, "params", "p", "", "route parameters as a JSON object")
	return cmd
}

// sample turns the flags into a Sample. Only flags that were given become
// metrics; the rest stay nil.
func (o routeMetricsOptions) sample(cmd *cobra.Command, route string, now time.Time) (perf.Sample, error) {
	s := perf.Sample{Route: route, Env: o.env, AccessedAt: now.UTC()}
	flags := cmd.Flags()

	if flags.Changed("request-time") {
		v := o.requestTime
		s.RequestTime = &v
	}
	if flags.Changed("queries") {
		v := o.queries
		s.TotalQueries = &v
	}
	if flags.Changed("query-time") {
		v := o.queryTime
		s.QueryTime = &v
	}
	if flags.Changed("memory") {
		v := o.memory
		s.MemoryUsage = &v
	}
	if o.method != "" {
		m := strings.ToUpper(o.method)
		s.HTTPMethod = &m
	}
	if o.params != "" {
		if err := json.Unmarshal([]byte(o.params), &s.Params); err != nil {
			return s, perrors.Wrap(err, perrors.CategoryValidation, "invalid JSON in --params")
		}
	}

	if !s.HasMetrics() {
		return s, perrors.New(perrors.CategoryValidation,
			"at least one metric must be provided (--request-time, --queries, --query-time or --memory)")
	}
	return s, s.Validate()
}

func runSetRouteMetrics(cmd *cobra.Command, app *App, s perf.Sample) error {
	p := app.out()
	p.Title("routeperf - Set Route Metrics")

	routes, _, err := app.Stores()
	if err != nil {
		return err
	}
	rec := perf.NewRecorder(routes, nil, perf.Options{
		TrackedStatusCodes: app.Config.TrackStatusCodes,
		Logging:            app.Config.EnableLogging,
	})

	res, err := rec.RecordSync(cmd.Context(), s)
	if err != nil {
		return err
	}

	if res.IsNew {
		p.Success("Route metrics saved successfully!")
	} else {
		p.Success("Route metrics updated. Stored values only change where the new ones are worse.")
	}
	p.Table([]string{"Metric", "Value"}, routeRows(res.Route))
	return nil
}

func routeRows(r *db.RouteData) [][]string {
	method := "-"
	if r.HTTPMethod != nil {
		method = *r.HTTPMethod
	}
	return [][]string{
		{"Route", r.Name},
		{"Environment", r.Env},
		{"Method", method},
		{"Request time (s)", formatFloatPtr(r.RequestTime, 4)},
		{"Total queries", formatIntPtr(r.TotalQueries)},
		{"Query time (s)", formatFloatPtr(r.QueryTime, 4)},
		{"Memory (bytes)", formatIntPtr(r.MemoryUsage)},
		{"Access count", formatInt(r.AccessCount)},
	}
}
