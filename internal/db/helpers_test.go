package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"routeperf/internal/config"
	"routeperf/internal/schema"
)

const (
	testRoutes  = "routes_data"
	testRecords = "routes_data_records"
)

func ptr[T any](v T) *T { return &v }

// newTestDB opens an in-memory sqlite database with both tables created by
// the schema reconciler.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Connect(&config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	r := schema.NewReconciler(sqlDB, schema.NewGormInspector(gdb, schema.SQLite{}), schema.SQLite{})
	_, err = r.Sync(context.Background(), []schema.Table{
		schema.RoutesTable(testRoutes),
		schema.RecordsTable(testRecords, testRoutes),
	}, false)
	require.NoError(t, err)
	return gdb
}

func newTestStores(t *testing.T) (*RouteStore, *RecordStore) {
	t.Helper()
	gdb := newTestDB(t)
	return NewRouteStore(gdb, testRoutes, testRecords), NewRecordStore(gdb, testRecords, testRoutes)
}

func seedRoute(t *testing.T, s *RouteStore, env, name string, requestTime *float64) *RouteData {
	t.Helper()
	r := &RouteData{
		Env:               env,
		Name:              name,
		HTTPMethod:        ptr("GET"),
		RequestTime:       requestTime,
		AccessCount:       1,
		SaveAccessRecords: true,
	}
	require.NoError(t, s.Create(context.Background(), r))
	require.NotZero(t, r.ID)
	return r
}
