package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	perrors "routeperf/internal/errors"
)

// RecordStore persists AccessRecord rows. Environment scoping goes through
// the owning aggregate, since records do not carry an env column.
type RecordStore struct {
	db          *gorm.DB
	table       string
	routesTable string
}

func NewRecordStore(db *gorm.DB, table, routesTable string) *RecordStore {
	return &RecordStore{db: db, table: table, routesTable: routesTable}
}

// Table returns the access-records table name.
func (s *RecordStore) Table() string { return s.table }

func (s *RecordStore) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

func (s *RecordStore) scoped(ctx context.Context, env *string) *gorm.DB {
	q := s.q(ctx)
	if env != nil {
		q = q.Where("route_data_id IN (?)", s.db.WithContext(ctx).Table(s.routesTable).Select("id").Where("env = ?", *env))
	}
	return q
}

// Create inserts rec. A record whose request id was already stored is
// skipped and Create reports false.
func (s *RecordStore) Create(ctx context.Context, rec *AccessRecord) (bool, error) {
	if rec.RequestID != nil && *rec.RequestID != "" {
		var n int64
		if err := s.q(ctx).Where("request_id = ?", *rec.RequestID).Count(&n).Error; err != nil {
			return false, perrors.Wrap(err, perrors.CategoryPersistence, "check request id")
		}
		if n > 0 {
			return false, nil
		}
	}
	if rec.AccessedAt.IsZero() {
		rec.AccessedAt = time.Now().UTC()
	}
	if err := s.q(ctx).Create(rec).Error; err != nil {
		return false, perrors.Wrap(err, perrors.CategoryPersistence, "create access record")
	}
	return true, nil
}

// DeleteOlderThan removes records accessed strictly before cutoff,
// optionally only those of routes in env.
func (s *RecordStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, env *string) (int64, error) {
	res := s.scoped(ctx, env).Where("accessed_at < ?", cutoff).Delete(&AccessRecord{})
	if res.Error != nil {
		return 0, perrors.Wrap(res.Error, perrors.CategoryPersistence, "delete old access records")
	}
	return res.RowsAffected, nil
}

// CountOlderThan counts what DeleteOlderThan would remove.
func (s *RecordStore) CountOlderThan(ctx context.Context, cutoff time.Time, env *string) (int64, error) {
	var n int64
	if err := s.scoped(ctx, env).Where("accessed_at < ?", cutoff).Count(&n).Error; err != nil {
		return 0, perrors.Wrap(err, perrors.CategoryPersistence, "count old access records")
	}
	return n, nil
}

// DeleteAll removes every record, optionally only those of routes in env.
func (s *RecordStore) DeleteAll(ctx context.Context, env *string) (int64, error) {
	q := s.scoped(ctx, env)
	if env == nil {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&AccessRecord{})
	if res.Error != nil {
		return 0, perrors.Wrap(res.Error, perrors.CategoryPersistence, "delete access records")
	}
	return res.RowsAffected, nil
}

// CountAll counts what DeleteAll would remove.
func (s *RecordStore) CountAll(ctx context.Context, env *string) (int64, error) {
	var n int64
	if err := s.scoped(ctx, env).Count(&n).Error; err != nil {
		return 0, perrors.Wrap(err, perrors.CategoryPersistence, "count access records")
	}
	return n, nil
}

func (s *RecordStore) CountByRoute(ctx context.Context, routeID uint) (int64, error) {
	var n int64
	if err := s.q(ctx).Where("route_data_id = ?", routeID).Count(&n).Error; err != nil {
		return 0, perrors.Wrap(err, perrors.CategoryPersistence, "count route records")
	}
	return n, nil
}

// RecordFilters narrows Find. Zero values do not filter.
type RecordFilters struct {
	Env        string
	RouteID    uint
	StatusCode int
	From, To   time.Time
	Limit      int
}

// Find lists records, newest first.
func (s *RecordStore) Find(ctx context.Context, f RecordFilters) ([]AccessRecord, error) {
	var env *string
	if f.Env != "" {
		env = &f.Env
	}
	q := s.scoped(ctx, env)
	if f.RouteID != 0 {
		q = q.Where("route_data_id = ?", f.RouteID)
	}
	if f.StatusCode != 0 {
		q = q.Where("status_code = ?", f.StatusCode)
	}
	if !f.From.IsZero() {
		q = q.Where("accessed_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("accessed_at < ?", f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []AccessRecord
	if err := q.Order("accessed_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "list access records")
	}
	return out, nil
}

// RecordAggregate is what the access records of one route add up to.
type RecordAggregate struct {
	RouteDataID     uint
	MaxResponseTime *float64
	MaxTotalQueries *int
	MaxQueryTime    *float64
	MaxMemoryUsage  *int64
	LastAccessedAt  *time.Time
	Count           int64
	StatusCodes     StatusCodes
}

// aggTime scans the result of MAX() over a timestamp column. sqlite drops
// the column type for aggregates and hands back text.
type aggTime struct {
	Time  time.Time
	Valid bool
}

var aggTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func (t *aggTime) Scan(src any) error {
	*t = aggTime{}
	var s string
	switch v := src.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into a timestamp", src)
	}
	for _, layout := range aggTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t aggTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// AggregatesFor computes per-route maxima, counts, latest access time and
// status histograms
// for the given route ids. Routes without records are absent from the map.
func (s *RecordStore) AggregatesFor(ctx context.Context, ids []uint) (map[uint]*RecordAggregate, error) {
	out := make(map[uint]*RecordAggregate, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []struct {
		RouteDataID     uint
		MaxResponseTime *float64
		MaxTotalQueries *int
		MaxQueryTime    *float64
		MaxMemoryUsage  *int64
		LastAccessedAt  aggTime
		Cnt             int64
	}
	err := s.q(ctx).
		Select(`route_data_id,
			MAX(response_time) AS max_response_time,
			MAX(total_queries) AS max_total_queries,
			MAX(query_time) AS max_query_time,
			MAX(memory_usage) AS max_memory_usage,
			MAX(accessed_at) AS last_accessed_at,
			COUNT(*) AS cnt`).
		Where("route_data_id IN ?", ids).
		Group("route_data_id").
		Scan(&rows).Error
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "aggregate access records")
	}
	for _, r := range rows {
		out[r.RouteDataID] = &RecordAggregate{
			RouteDataID:     r.RouteDataID,
			MaxResponseTime: r.MaxResponseTime,
			MaxTotalQueries: r.MaxTotalQueries,
			MaxQueryTime:    r.MaxQueryTime,
			MaxMemoryUsage:  r.MaxMemoryUsage,
			LastAccessedAt:  r.LastAccessedAt.ptr(),
			Count:           r.Cnt,
		}
	}

	var codes []struct {
		RouteDataID uint
		StatusCode  int
		Cnt         int64
	}
	err = s.q(ctx).
		Select("route_data_id, status_code, COUNT(*) AS cnt").
		Where("route_data_id IN ? AND status_code IS NOT NULL", ids).
		Group("route_data_id, status_code").
		Scan(&codes).Error
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "aggregate status codes")
	}
	for _, c := range codes {
		agg, ok := out[c.RouteDataID]
		if !ok {
			continue
		}
		if agg.StatusCodes == nil {
			agg.StatusCodes = StatusCodes{}
		}
		agg.StatusCodes[c.StatusCode] = c.Cnt
	}
	return out, nil
}
