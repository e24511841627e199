package perf

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeperf/internal/config"
	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
	"routeperf/internal/schema"
)

func newStores(t *testing.T) (*db.RouteStore, *db.RecordStore) {
	t.Helper()
	gdb, err := db.Connect(&config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	r := schema.NewReconciler(sqlDB, schema.NewGormInspector(gdb, schema.SQLite{}), schema.SQLite{})
	_, err = r.Sync(context.Background(), []schema.Table{
		schema.RoutesTable("routes_data"),
		schema.RecordsTable("routes_data_records", "routes_data"),
	}, false)
	require.NoError(t, err)
	return db.NewRouteStore(gdb, "routes_data", "routes_data_records"), db.NewRecordStore(gdb, "routes_data_records", "routes_data")
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []Sample
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, s Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, s)
	return nil
}

type fakeCache struct {
	stats       map[string]db.Stats
	envs        []string
	invalidated []string
}

func newFakeCache() *fakeCache { return &fakeCache{stats: map[string]db.Stats{}} }

func (c *fakeCache) GetStats(_ context.Context, env string) (db.Stats, bool) {
	st, ok := c.stats[env]
	return st, ok
}
func (c *fakeCache) SetStats(_ context.Context, env string, st db.Stats) { c.stats[env] = st }
func (c *fakeCache) GetEnvironments(context.Context) ([]string, bool)    { return c.envs, c.envs != nil }
func (c *fakeCache) SetEnvironments(_ context.Context, envs []string)    { c.envs = envs }
func (c *fakeCache) InvalidateEnv(_ context.Context, env string) {
	delete(c.stats, env)
	c.envs = nil
	c.invalidated = append(c.invalidated, env)
}

func TestRecorder_RoundTrip(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{TrackedStatusCodes: tracked})
	ctx := context.Background()

	in := Sample{
		Route:        "app_user_show",
		Env:          "dev",
		RequestTime:  ptr(0.42),
		TotalQueries: ptr(0),
		QueryTime:    ptr(0.01),
		MemoryUsage:  ptr(int64(2048)),
		HTTPMethod:   ptr("GET"),
		StatusCode:   ptr(404),
		Params:       map[string]any{"id": "7"},
	}
	res, err := rec.RecordMetrics(ctx, in)
	require.NoError(t, err)
	assert.True(t, res.IsNew)

	got, err := rec.RouteData(ctx, "app_user_show", "dev")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.Route.ID, got.ID)
	assert.Equal(t, 0.42, *got.RequestTime)
	assert.Equal(t, 0, *got.TotalQueries)
	assert.Equal(t, 0.01, *got.QueryTime)
	assert.Equal(t, int64(2048), *got.MemoryUsage)
	assert.Equal(t, "GET", *got.HTTPMethod)
	assert.Equal(t, "7", got.Params["id"])
	assert.Equal(t, db.StatusCodes{404: 1}, got.StatusCodes)
	assert.Equal(t, 1, got.AccessCount)
	assert.NotNil(t, got.LastAccessedAt)

	res, err = rec.RecordMetrics(ctx, Sample{Route: "app_user_show", Env: "dev", RequestTime: ptr(0.1), StatusCode: ptr(200)})
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.True(t, res.WasUpdated)

	got, err = rec.RouteData(ctx, "app_user_show", "dev")
	require.NoError(t, err)
	assert.Equal(t, 0.42, *got.RequestTime)
	assert.Equal(t, 2, got.AccessCount)
	assert.Equal(t, db.StatusCodes{200: 1, 404: 1}, got.StatusCodes)
}

func TestRecorder_RouteChanged(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{Logging: true})
	cache := newFakeCache()
	rec.SetCache(cache)
	var got []Change
	rec.OnChange(func(_ context.Context, c Change) { got = append(got, c) })
	ctx := context.Background()

	rec.RouteChanged(ctx, Change{Kind: RouteDeleted, Env: "dev", RouteID: 3, Count: 1})
	rec.RouteChanged(ctx, Change{Kind: RoutesCleared, Env: "prod", Count: 4})

	assert.Equal(t, []string{"dev", "prod"}, cache.invalidated)
	assert.Equal(t, []Change{
		{Kind: RouteDeleted, Env: "dev", RouteID: 3, Count: 1},
		{Kind: RoutesCleared, Env: "prod", Count: 4},
	}, got)
}

func TestRecorder_ParamsReadBackAsWritten(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{TrackedStatusCodes: tracked, AccessRecords: true})
	ctx := context.Background()

	res, err := rec.RecordMetrics(ctx, Sample{
		Route:       "app_item_show",
		Env:         "dev",
		RequestTime: ptr(0.3),
		StatusCode:  ptr(200),
		Params: map[string]any{
			"id":     float64(7),
			"page":   2,
			"flag":   true,
			"slug":   "abc",
			"tags":   []string{"a", "b"},
			"nested": map[string]any{"ratio": 0.5},
		},
	})
	require.NoError(t, err)

	got, err := rec.RouteData(ctx, "app_item_show", "dev")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.Route.Params, got.Params)
	assert.Equal(t, json.Number("7"), got.Params["id"])
	assert.Equal(t, json.Number("2"), got.Params["page"])
	assert.Equal(t, true, got.Params["flag"])
	assert.Equal(t, "abc", got.Params["slug"])
	assert.Equal(t, []any{"a", "b"}, got.Params["tags"])
	assert.Equal(t, map[string]any{"ratio": json.Number("0.5")}, got.Params["nested"])

	stored, err := records.Find(ctx, db.RecordFilters{RouteID: got.ID})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, got.Params, stored[0].RouteParams)
}

func TestRecorder_AccessRecords(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{AccessRecords: true})
	ctx := context.Background()

	s := Sample{Route: "r", Env: "dev", RequestTime: ptr(0.2), StatusCode: ptr(200), RequestID: "abc", RoutePath: "/r?x=1"}
	_, err := rec.RecordMetrics(ctx, s)
	require.NoError(t, err)
	// Same request id: the aggregate moves, no second record.
	_, err = rec.RecordMetrics(ctx, s)
	require.NoError(t, err)

	route, err := rec.RouteData(ctx, "r", "dev")
	require.NoError(t, err)
	assert.Equal(t, 2, route.AccessCount)

	list, err := records.Find(ctx, db.RecordFilters{RouteID: route.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/r?x=1", *list[0].RoutePath)
	assert.Equal(t, 0.2, *list[0].ResponseTime)
	assert.Nil(t, list[0].Referer)

	// A route can opt out.
	route.SaveAccessRecords = false
	require.NoError(t, routes.Save(ctx, route))
	_, err = rec.RecordMetrics(ctx, Sample{Route: "r", Env: "dev", RequestID: "def"})
	require.NoError(t, err)
	n, err := records.CountByRoute(ctx, route.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecorder_AccessRecordsDisabled(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{})
	_, err := rec.RecordMetrics(context.Background(), Sample{Route: "r", Env: "dev"})
	require.NoError(t, err)
	n, err := records.CountAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecorder_AsyncPublishes(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{Async: true})
	pub := &fakePublisher{}
	rec.SetPublisher(pub)
	ctx := context.Background()

	res, err := rec.RecordMetrics(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(1.0)})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	require.Len(t, pub.sent, 1)

	got, err := rec.RouteData(ctx, "r", "dev")
	require.NoError(t, err)
	assert.Nil(t, got, "nothing written until the consumer runs")

	res, err = rec.RecordSync(ctx, pub.sent[0])
	require.NoError(t, err)
	assert.True(t, res.IsNew)

	pub.err = errors.New("nats down")
	_, err = rec.RecordMetrics(ctx, Sample{Route: "r", Env: "dev"})
	assert.True(t, perrors.IsCategory(err, perrors.CategoryDependency))
}

func TestRecorder_AsyncWithoutPublisherWritesDirectly(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{Async: true})
	res, err := rec.RecordMetrics(context.Background(), Sample{Route: "r", Env: "dev"})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
}

func TestRecorder_Hooks(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{})
	rec.OnBefore(func(_ context.Context, s *Sample) {
		s.Params = map[string]any{"tagged": true}
	})
	var seen []Result
	rec.OnRecorded(func(_ context.Context, s Sample, res Result) {
		assert.Equal(t, true, s.Params["tagged"])
		seen = append(seen, res)
	})

	_, err := rec.RecordMetrics(context.Background(), Sample{Route: "r", Env: "dev"})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].IsNew)
	require.NotNil(t, seen[0].Route)
	assert.Equal(t, "r", seen[0].Route.Name)
}

func TestRecorder_StatisticsAreCached(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{})
	cache := newFakeCache()
	rec.SetCache(cache)
	ctx := context.Background()

	_, err := rec.RecordMetrics(ctx, Sample{Route: "a", Env: "dev", RequestTime: ptr(1.0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, cache.invalidated)

	st, err := rec.Statistics(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Routes)
	assert.Contains(t, cache.stats, "dev")

	// Served from the cache while nothing invalidates it.
	cache.stats["dev"] = db.Stats{Env: "dev", Routes: 42}
	st, err = rec.Statistics(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, int64(42), st.Routes)

	_, err = rec.RecordMetrics(ctx, Sample{Route: "b", Env: "dev"})
	require.NoError(t, err)
	st, err = rec.Statistics(ctx, "dev")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Routes)

	envs, err := rec.Environments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev"}, envs)
	assert.Equal(t, []string{"dev"}, cache.envs)
}

func TestRecorder_ReadHelpers(t *testing.T) {
	routes, records := newStores(t)
	rec := NewRecorder(routes, records, Options{})
	ctx := context.Background()
	for name, rt := range map[string]float64{"a": 0.1, "b": 0.9, "c": 0.5} {
		_, err := rec.RecordMetrics(ctx, Sample{Route: name, Env: "prod", RequestTime: ptr(rt)})
		require.NoError(t, err)
	}

	all, err := rec.RoutesByEnvironment(ctx, "prod")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	worst, err := rec.WorstPerforming(ctx, "prod", 2)
	require.NoError(t, err)
	require.Len(t, worst, 2)
	assert.Equal(t, "b", worst[0].Name)
	assert.Equal(t, "c", worst[1].Name)
}
