package perf

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
)

func ptr[T any](v T) *T { return &v }

type memStore struct {
	rows    map[string]*db.RouteData
	nextID  uint
	saves   int
	failing error
}

func newMemStore() *memStore { return &memStore{rows: map[string]*db.RouteData{}} }

func (m *memStore) FindByRouteAndEnv(_ context.Context, name, env string) (*db.RouteData, error) {
	if m.failing != nil {
		return nil, m.failing
	}
	r, ok := m.rows[env+"|"+name]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) Create(_ context.Context, r *db.RouteData) error {
	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.rows[r.Env+"|"+r.Name] = &cp
	return nil
}

func (m *memStore) Save(_ context.Context, r *db.RouteData) error {
	m.saves++
	cp := *r
	m.rows[r.Env+"|"+r.Name] = &cp
	return nil
}

func (m *memStore) get(name, env string) *db.RouteData { return m.rows[env+"|"+name] }

func newTestEngine(store AggregateStore) *Engine {
	e := NewEngine(store)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }
	return e
}

var tracked = []int{200, 404, 500, 503}

func TestRecordSample_NewAggregate(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	res, err := e.RecordSample(context.Background(), Sample{
		Route:        "app_home",
		Env:          "dev",
		RequestTime:  ptr(0.25),
		TotalQueries: ptr(4),
		HTTPMethod:   ptr("GET"),
		StatusCode:   ptr(200),
		Params:       map[string]any{"id": 1},
	}, tracked)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.False(t, res.WasUpdated, "status increments on a new aggregate do not count as an update")

	got := store.get("app_home", "dev")
	require.NotNil(t, got)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, 0.25, *got.RequestTime)
	assert.Nil(t, got.QueryTime)
	assert.Nil(t, got.MemoryUsage)
	assert.Equal(t, int64(1), got.StatusCodeCount(200))
	assert.True(t, got.SaveAccessRecords)
	require.NotNil(t, got.LastAccessedAt)
	// Params are kept in the form a JSON column reads them back in.
	assert.Equal(t, json.Number("1"), got.Params["id"])
	assert.Equal(t, got.Params, res.Route.Params)
}

func TestRecordSample_BetterSampleDoesNotRegress(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	ctx := context.Background()

	_, err := e.RecordSample(ctx, Sample{
		Route: "r", Env: "dev",
		RequestTime: ptr(1.0), TotalQueries: ptr(10),
		HTTPMethod: ptr("POST"), Params: map[string]any{"a": "x"},
	}, tracked)
	require.NoError(t, err)

	better := []Sample{
		{RequestTime: ptr(0.5), TotalQueries: ptr(3), HTTPMethod: ptr("GET"), Params: map[string]any{"a": "y"}},
		{RequestTime: ptr(1.0), TotalQueries: ptr(10)},
		{RequestTime: ptr(0.0), TotalQueries: ptr(0)},
		{},
	}
	for i, s := range better {
		s.Route, s.Env = "r", "dev"
		res, err := e.RecordSample(ctx, s, tracked)
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		assert.True(t, res.WasUpdated, "access count moved")

		got := store.get("r", "dev")
		assert.Equal(t, 1.0, *got.RequestTime)
		assert.Equal(t, 10, *got.TotalQueries)
		assert.Equal(t, "POST", *got.HTTPMethod)
		assert.Equal(t, "x", got.Params["a"])
		assert.Equal(t, i+2, got.AccessCount)
	}
}

func TestRecordSample_NullRequestTimeIsAlwaysReplaced(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	ctx := context.Background()

	_, err := e.RecordSample(ctx, Sample{Route: "r", Env: "dev", TotalQueries: ptr(50)}, tracked)
	require.NoError(t, err)
	require.Nil(t, store.get("r", "dev").RequestTime)

	_, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.0), TotalQueries: ptr(1)}, tracked)
	require.NoError(t, err)

	got := store.get("r", "dev")
	require.NotNil(t, got.RequestTime)
	assert.Equal(t, 0.0, *got.RequestTime)
	assert.Equal(t, 1, *got.TotalQueries, "both metrics are overwritten together")
}

func TestRecordSample_EitherDimensionTriggers(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	ctx := context.Background()

	_, err := e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.5), TotalQueries: ptr(5)}, tracked)
	require.NoError(t, err)

	// Faster but with more queries: the whole row is overwritten.
	_, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.1), TotalQueries: ptr(9)}, tracked)
	require.NoError(t, err)

	got := store.get("r", "dev")
	assert.Equal(t, 0.1, *got.RequestTime)
	assert.Equal(t, 9, *got.TotalQueries)
}

func TestRecordSample_MemoryOnlyGrows(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	ctx := context.Background()

	_, err := e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.1), MemoryUsage: ptr(int64(5000))}, tracked)
	require.NoError(t, err)

	_, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.2), MemoryUsage: ptr(int64(100))}, tracked)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), *store.get("r", "dev").MemoryUsage)

	_, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.3), MemoryUsage: ptr(int64(9000))}, tracked)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), *store.get("r", "dev").MemoryUsage)

	_, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", RequestTime: ptr(0.4)}, tracked)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), *store.get("r", "dev").MemoryUsage, "nil never clears")
}

func TestRecordSample_HundredTrackedSamples(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	for i := 0; i < 100; i++ {
		_, err := e.RecordSample(context.Background(), Sample{Route: "r", Env: "dev", StatusCode: ptr(200)}, tracked)
		require.NoError(t, err)
	}
	got := store.get("r", "dev")
	assert.Equal(t, int64(100), got.StatusCodeCount(200))
	assert.Equal(t, int64(100), got.TotalResponses())
	assert.Equal(t, 100, got.AccessCount)
}

func TestRecordSample_UntrackedCodeLeavesHistogram(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	ctx := context.Background()

	res, err := e.RecordSample(ctx, Sample{Route: "r", Env: "dev", StatusCode: ptr(418)}, tracked)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.False(t, res.WasUpdated)
	assert.Empty(t, store.get("r", "dev").StatusCodes)

	res, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", StatusCode: ptr(418)}, tracked)
	require.NoError(t, err)
	assert.True(t, res.WasUpdated)
	assert.Empty(t, store.get("r", "dev").StatusCodes)
	assert.Equal(t, 2, store.get("r", "dev").AccessCount)

	// An empty tracked list counts everything.
	_, err = e.RecordSample(ctx, Sample{Route: "r", Env: "dev", StatusCode: ptr(418)}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.get("r", "dev").StatusCodeCount(418))
}

func TestRecordSample_Ratios(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	for code, n := range map[int]int{200: 7, 404: 2, 500: 1} {
		for i := 0; i < n; i++ {
			_, err := e.RecordSample(context.Background(), Sample{Route: "r", Env: "dev", StatusCode: ptr(code)}, tracked)
			require.NoError(t, err)
		}
	}
	got := store.get("r", "dev")
	assert.Equal(t, int64(10), got.TotalResponses())
	assert.InDelta(t, 70.0, got.StatusCodeRatio(200), 1e-9)
	assert.InDelta(t, 20.0, got.StatusCodeRatio(404), 1e-9)
	assert.InDelta(t, 10.0, got.StatusCodeRatio(500), 1e-9)
	assert.Equal(t, 0.0, (&db.RouteData{}).StatusCodeRatio(200))
}

func TestRecordSample_Errors(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	_, err := e.RecordSample(context.Background(), Sample{Env: "dev"}, tracked)
	assert.True(t, perrors.IsCategory(err, perrors.CategoryValidation))

	store.failing = errors.New("connection lost")
	_, err = e.RecordSample(context.Background(), Sample{Route: "r", Env: "dev"}, tracked)
	assert.EqualError(t, err, "connection lost")
	assert.Zero(t, store.saves)
}

func TestShouldUpdate(t *testing.T) {
	tests := []struct {
		name     string
		existing db.RouteData
		rt       *float64
		tq       *int
		want     bool
	}{
		{"worse time", db.RouteData{RequestTime: ptr(0.3), TotalQueries: ptr(10)}, ptr(0.5), ptr(10), true},
		{"worse queries", db.RouteData{RequestTime: ptr(0.5), TotalQueries: ptr(5)}, ptr(0.5), ptr(10), true},
		{"better", db.RouteData{RequestTime: ptr(0.5), TotalQueries: ptr(10)}, ptr(0.3), ptr(5), false},
		{"equal", db.RouteData{RequestTime: ptr(0.5), TotalQueries: ptr(10)}, ptr(0.5), ptr(10), false},
		{"time newly known", db.RouteData{TotalQueries: ptr(10)}, ptr(0.5), ptr(10), true},
		{"queries newly known", db.RouteData{RequestTime: ptr(0.5)}, ptr(0.5), ptr(10), true},
		{"only queries reported", db.RouteData{RequestTime: ptr(0.5), TotalQueries: ptr(10)}, nil, ptr(10), false},
		{"both nil", db.RouteData{}, nil, nil, false},
		{"zeros against zeros", db.RouteData{RequestTime: ptr(0.0), TotalQueries: ptr(0)}, ptr(0.0), ptr(0), false},
		{"zero newly known", db.RouteData{}, ptr(0.0), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldUpdate(&tt.existing, tt.rt, tt.tq))
		})
	}
}
