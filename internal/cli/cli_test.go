package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"routeperf/internal/config"
	perrors "routeperf/internal/errors"
	"routeperf/internal/perf"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func ptr[T any](v T) *T { return &v }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:                 "dev",
		DatabaseURL:         "sqlite://" + filepath.Join(t.TempDir(), "perf.db"),
		Enabled:             true,
		Environments:        []string{"dev"},
		TableName:           "routes_data",
		TrackQueries:        true,
		TrackRequestTime:    true,
		TrackStatusCodes:    []int{200, 404, 500},
		SamplingRate:        1,
		EnableAccessRecords: true,
		PurgeSchedule:       "@daily",
		CacheTTL:            time.Minute,
		AlertWebhookFormat:  "json",
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app := NewApp(cfg, nil)
	t.Cleanup(app.Close)
	return app
}

// run executes one command line against app and returns what it printed.
func run(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app.Out = &buf
	cmd := NewRootCmd(app)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustRun(t *testing.T, app *App, args ...string) string {
	t.Helper()
	out, err := run(t, app, args...)
	require.NoError(t, err, out)
	return out
}

func TestCreateTable(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	out := mustRun(t, app, "create-table")
	assert.Contains(t, out, `Table "routes_data" created successfully!`)

	out = mustRun(t, app, "create-table")
	assert.Contains(t, out, `Table "routes_data" already exists.`)
	assert.Contains(t, out, "--update")

	out = mustRun(t, app, "create-table", "--update")
	assert.Contains(t, out, "all columns are up to date")

	out = mustRun(t, app, "create-table", "--force")
	assert.Contains(t, out, `Dropped existing table "routes_data".`)
	assert.Contains(t, out, "created successfully!")
}

func TestCreateRecordsTableRequiresAccessRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableAccessRecords = false
	app := newTestApp(t, cfg)

	_, err := run(t, app, "create-records-table")
	require.Error(t, err)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryConfig))

	out := mustRun(t, app, "create-records-table", "--force")
	assert.Contains(t, out, `Table "routes_data_records" created successfully!`)
}

func TestSyncSchema(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	out := mustRun(t, app, "sync-schema")
	assert.Contains(t, out, `Table "routes_data" created successfully!`)
	assert.Contains(t, out, `Table "routes_data_records" created successfully!`)
	assert.Contains(t, out, "Schema sync completed for both tables.")

	out = mustRun(t, app, "sync-schema", "--drop-obsolete")
	assert.Contains(t, out, "Schema sync completed")
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	cfg := testConfig(t)
	cfg.TableName = "bad name"
	app := newTestApp(t, cfg)

	_, err := run(t, app, "create-table")
	require.Error(t, err)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryConfig))
	assert.Equal(t, 1, perrors.ExitCode(err))
}

func TestSetRouteMetrics(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	mustRun(t, app, "sync-schema")

	_, err := run(t, app, "set-route-metrics", "app_home")
	require.Error(t, err)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryValidation))

	out := mustRun(t, app, "set-route-metrics", "app_home", "--env", "prod",
		"--request-time", "0.5", "--queries", "12", "--method", "get", "--params", `{"id":7}`)
	assert.Contains(t, out, "Route metrics saved successfully!")
	assert.Contains(t, out, "0.5000")
	assert.Contains(t, out, "GET")

	// A better sample does not lower the stored worst case.
	out = mustRun(t, app, "set-route-metrics", "app_home", "--env", "prod", "--request-time", "0.1")
	assert.Contains(t, out, "Route metrics updated.")

	routes, _, err := app.Stores()
	require.NoError(t, err)
	r, err := routes.FindByRouteAndEnv(context.Background(), "app_home", "prod")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 0.5, *r.RequestTime)
	assert.Equal(t, 12, *r.TotalQueries)
	assert.Nil(t, r.QueryTime)
	assert.Equal(t, 2, r.AccessCount)
	assert.Equal(t, json.Number("7"), r.Params["id"])
}

func TestSetRouteMetricsRejectsBadParams(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	_, err := run(t, app, "set-route-metrics", "app_home", "--queries", "1", "--params", "{nope")
	require.Error(t, err)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryValidation))
}

// seedRecords records one sample per age, in days, for app_home in env.
func seedRecords(t *testing.T, app *App, env string, ages ...int) {
	t.Helper()
	routes, records, err := app.Stores()
	require.NoError(t, err)
	rec := perf.NewRecorder(routes, records, perf.Options{TrackedStatusCodes: []int{200}, AccessRecords: true})
	for _, days := range ages {
		_, err := rec.RecordSync(context.Background(), perf.Sample{
			Route:       "app_home",
			Env:         env,
			RequestTime: ptr(0.2),
			StatusCode:  ptr(200),
			AccessedAt:  time.Now().UTC().AddDate(0, 0, -days),
		})
		require.NoError(t, err)
	}
}

func TestPurge(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	mustRun(t, app, "sync-schema")
	seedRecords(t, app, "dev", 40, 1)
	seedRecords(t, app, "prod", 40)
	_, records, err := app.Stores()
	require.NoError(t, err)
	ctx := context.Background()

	out := mustRun(t, app, "purge", "--older-than", "30", "--dry-run")
	assert.Contains(t, out, "Dry-run: would delete 2 record(s)")
	n, err := records.CountAll(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	out = mustRun(t, app, "purge", "--older-than", "30", "--env", "dev")
	assert.Contains(t, out, "Deleted 1 access record(s) older than")
	assert.Contains(t, out, `for env "dev"`)

	out = mustRun(t, app, "purge", "--all", "--env", "prod")
	assert.Contains(t, out, "Deleted 1 access record(s)")

	n, err = records.CountAll(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPurgeValidation(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	mustRun(t, app, "sync-schema")

	_, err := run(t, app, "purge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no retention configured and --older-than not specified")

	_, err = run(t, app, "purge", "--older-than", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "days must be at least 1")

	app.Config.AccessRecordsRetentionDays = 30
	out := mustRun(t, app, "purge", "--dry-run")
	assert.Contains(t, out, "(30 days)")
}

func TestPurgeRequiresAccessRecords(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnableAccessRecords = false
	app := newTestApp(t, cfg)

	_, err := run(t, app, "purge", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access records are disabled")
}

func TestRebuildAggregates(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	mustRun(t, app, "sync-schema")

	out := mustRun(t, app, "rebuild-aggregates")
	assert.Contains(t, out, "Nothing to rebuild.")

	seedRecords(t, app, "dev", 3, 2, 1)
	routes, _, err := app.Stores()
	require.NoError(t, err)
	ctx := context.Background()
	r, err := routes.FindByRouteAndEnv(ctx, "app_home", "dev")
	require.NoError(t, err)
	r.AccessCount = 99
	stale := time.Now().UTC().AddDate(0, 0, 5)
	r.LastAccessedAt = &stale
	require.NoError(t, routes.Save(ctx, r))

	out = mustRun(t, app, "rebuild-aggregates", "--env", "dev", "--batch-size", "1")
	assert.Contains(t, out, "Rebuilt aggregates for 1 route(s).")

	r, err = routes.FindByRouteAndEnv(ctx, "app_home", "dev")
	require.NoError(t, err)
	assert.Equal(t, 3, r.AccessCount)
	require.NotNil(t, r.LastAccessedAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -1), *r.LastAccessedAt, time.Minute, "newest seeded record")
}

func TestDiagnose(t *testing.T) {
	app := newTestApp(t, testConfig(t))

	out := mustRun(t, app, "diagnose")
	assert.Contains(t, out, "dialect: sqlite")
	assert.Contains(t, out, "routes_data: routeperf create-table")
	assert.Contains(t, out, "routes_data_records: routeperf create-records-table")

	mustRun(t, app, "sync-schema")
	out = mustRun(t, app, "diagnose")
	assert.NotContains(t, out, "routeperf create-table")
	assert.Contains(t, out, "Query tracking plugin is registered.")
	assert.Contains(t, out, "Test query count: 1")
}

func TestDiagnoseTrackingDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrackQueries = false
	app := newTestApp(t, cfg)

	out := mustRun(t, app, "diagnose")
	assert.Contains(t, out, "Query tracking is disabled in configuration.")
}

func TestCheckDependencies(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	var buf bytes.Buffer
	app.Out = &buf

	runCheckDependencies(context.Background(), app, []dependency{
		{Name: "Up", Check: func(context.Context, *config.Config) (bool, error) { return true, nil }},
		{Name: "Unset", Fallback: "works without it", Check: func(context.Context, *config.Config) (bool, error) { return false, nil }},
		{Name: "Down", Fallback: "degraded", Check: func(context.Context, *config.Config) (bool, error) { return true, errors.New("refused") }},
	})
	out := buf.String()
	assert.Contains(t, out, "Up: available")
	assert.Contains(t, out, "Unset: not configured")
	assert.Contains(t, out, "Down: unavailable (refused)")
	assert.Contains(t, out, "works without it")
	assert.Contains(t, out, "degraded")
}

func TestCheckDependenciesNeverFails(t *testing.T) {
	app := newTestApp(t, testConfig(t))
	out := mustRun(t, app, "check-dependencies")
	assert.Contains(t, out, "NATS JetStream: not configured")
	assert.Contains(t, out, "Redis: not configured")
	assert.Contains(t, out, "Alert webhook: not configured")
}

func serveRequest(h fasthttp.RequestHandler, method, uri, token string) *fasthttp.Response {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}, nil)
	h(ctx)
	resp := &fasthttp.Response{}
	ctx.Response.CopyTo(resp)
	return resp
}

func TestBuildStack(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdminToken = "s3cret"
	cfg.AccessRecordsRetentionDays = 30
	app := newTestApp(t, cfg)
	mustRun(t, app, "sync-schema")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st, err := buildStack(ctx, app)
	require.NoError(t, err)
	defer st.stop()
	assert.False(t, st.Recorder.Async())

	assert.Equal(t, fasthttp.StatusOK, serveRequest(st.Handler, "GET", "/healthz", "").StatusCode())
	assert.Equal(t, fasthttp.StatusUnauthorized, serveRequest(st.Handler, "GET", "/api/statistics", "").StatusCode())
	assert.Equal(t, fasthttp.StatusUnauthorized, serveRequest(st.Handler, "GET", "/api/statistics", "wrong").StatusCode())

	resp := serveRequest(st.Handler, "GET", "/api/statistics?env=dev", "s3cret")
	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode())

	// The admin API instruments its own requests under the matched pattern.
	r, err := st.Recorder.RouteData(ctx, "/api/statistics", "dev")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 3, r.AccessCount)
	assert.EqualValues(t, 1, r.StatusCodeCount(200))
	assert.Zero(t, r.StatusCodeCount(401))
	assert.NotNil(t, r.RequestTime)

	metrics := serveRequest(st.Handler, "GET", "/metrics", "")
	assert.Contains(t, string(metrics.Body()), "routeperf_samples_recorded_total")
}

func TestBuildStackRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.AccessRecordsRetentionDays = 7
	cfg.PurgeSchedule = "not a schedule"
	app := newTestApp(t, cfg)
	mustRun(t, app, "sync-schema")

	_, err := buildStack(context.Background(), app)
	require.Error(t, err)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryConfig))
}
