package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	perrors "routeperf/internal/errors"
)

// RouteStore persists RouteData rows in a configurable table. Deleting
// routes also deletes their access records, since not every backend
// enforces the foreign key cascade.
type RouteStore struct {
	db           *gorm.DB
	table        string
	recordsTable string
}

func NewRouteStore(db *gorm.DB, table, recordsTable string) *RouteStore {
	return &RouteStore{db: db, table: table, recordsTable: recordsTable}
}

// Table returns the aggregate table name.
func (s *RouteStore) Table() string { return s.table }

func (s *RouteStore) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// FindByRouteAndEnv returns the aggregate for (name, env), or nil when
// there is none.
func (s *RouteStore) FindByRouteAndEnv(ctx context.Context, name, env string) (*RouteData, error) {
	var r RouteData
	err := s.q(ctx).Where("name = ? AND env = ?", name, env).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "find route")
	}
	return &r, nil
}

// FindByID returns the aggregate with id, or nil when there is none.
func (s *RouteStore) FindByID(ctx context.Context, id uint) (*RouteData, error) {
	var r RouteData
	err := s.q(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "find route by id")
	}
	return &r, nil
}

func (s *RouteStore) Create(ctx context.Context, r *RouteData) error {
	return perrors.Wrap(s.q(ctx).Create(r).Error, perrors.CategoryPersistence, "create route")
}

// Save writes every column of r.
func (s *RouteStore) Save(ctx context.Context, r *RouteData) error {
	return perrors.Wrap(s.q(ctx).Save(r).Error, perrors.CategoryPersistence, "save route")
}

// Filters narrows FindWithFilters. Zero values do not filter.
type Filters struct {
	Env            string
	Route          string // substring match on name
	Method         string
	MinRequestTime *float64
	MaxRequestTime *float64
	MinQueries     *int
	MaxQueries     *int
	Reviewed       *bool
	SortBy         string // one of sortColumns
	Order          string // asc or desc
	Limit          int
}

var sortColumns = map[string]string{
	"name":          "name",
	"env":           "env",
	"request_time":  "request_time",
	"total_queries": "total_queries",
	"query_time":    "query_time",
	"memory_usage":  "memory_usage",
	"access_count":  "access_count",
	"last_accessed": "last_accessed_at",
	"created_at":    "created_at",
}

func (s *RouteStore) FindWithFilters(ctx context.Context, f Filters) ([]RouteData, error) {
	q := s.q(ctx)
	if f.Env != "" {
		q = q.Where("env = ?", f.Env)
	}
	if f.Route != "" {
		q = q.Where("name LIKE ?", "%"+f.Route+"%")
	}
	if f.Method != "" {
		q = q.Where("http_method = ?", strings.ToUpper(f.Method))
	}
	if f.MinRequestTime != nil {
		q = q.Where("request_time >= ?", *f.MinRequestTime)
	}
	if f.MaxRequestTime != nil {
		q = q.Where("request_time <= ?", *f.MaxRequestTime)
	}
	if f.MinQueries != nil {
		q = q.Where("total_queries >= ?", *f.MinQueries)
	}
	if f.MaxQueries != nil {
		q = q.Where("total_queries <= ?", *f.MaxQueries)
	}
	if f.Reviewed != nil {
		q = q.Where("reviewed = ?", *f.Reviewed)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "request_time"
	}
	dir := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		dir = "ASC"
	}
	q = q.Order(col + " " + dir).Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []RouteData
	if err := q.Find(&out).Error; err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "list routes")
	}
	return out, nil
}

// FindByEnvironment lists every route of env, slowest first.
func (s *RouteStore) FindByEnvironment(ctx context.Context, env string) ([]RouteData, error) {
	return s.FindWithFilters(ctx, Filters{Env: env})
}

// WorstPerforming lists the limit slowest routes of env.
func (s *RouteStore) WorstPerforming(ctx context.Context, env string, limit int) ([]RouteData, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.FindWithFilters(ctx, Filters{Env: env, SortBy: "request_time", Order: "desc", Limit: limit})
}

// Environments lists the distinct environments that have routes.
func (s *RouteStore) Environments(ctx context.Context) ([]string, error) {
	var envs []string
	if err := s.q(ctx).Distinct("env").Order("env").Pluck("env", &envs).Error; err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "list environments")
	}
	return envs, nil
}

// Count returns the number of routes, optionally scoped to env.
func (s *RouteStore) Count(ctx context.Context, env *string) (int64, error) {
	q := s.q(ctx)
	if env != nil {
		q = q.Where("env = ?", *env)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, perrors.Wrap(err, perrors.CategoryPersistence, "count routes")
	}
	return n, nil
}

// Page returns up to limit routes with id > afterID, in id order.
func (s *RouteStore) Page(ctx context.Context, env *string, afterID uint, limit int) ([]RouteData, error) {
	q := s.q(ctx).Where("id > ?", afterID)
	if env != nil {
		q = q.Where("env = ?", *env)
	}
	var out []RouteData
	if err := q.Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "page routes")
	}
	return out, nil
}

// MarkAsReviewed flags route id as reviewed. It reports false when the
// route does not exist.
func (s *RouteStore) MarkAsReviewed(ctx context.Context, id uint, queriesImproved, timeImproved *bool, reviewedBy *string) (bool, error) {
	r, err := s.FindByID(ctx, id)
	if err != nil || r == nil {
		return false, err
	}
	r.MarkAsReviewed(queriesImproved, timeImproved, reviewedBy)
	err = s.q(ctx).Where("id = ?", id).Updates(map[string]any{
		"reviewed":         r.Reviewed,
		"reviewed_at":      r.ReviewedAt,
		"queries_improved": r.QueriesImproved,
		"time_improved":    r.TimeImproved,
		"reviewed_by":      r.ReviewedBy,
		"updated_at":       time.Now(),
	}).Error
	if err != nil {
		return false, perrors.Wrap(err, perrors.CategoryPersistence, "mark route reviewed")
	}
	return true, nil
}

// DeleteByID removes route id and its access records. It reports false
// when the route does not exist.
func (s *RouteStore) DeleteByID(ctx context.Context, id uint) (bool, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.recordsTable != "" && tx.Migrator().HasTable(s.recordsTable) {
			if err := tx.Table(s.recordsTable).Where("route_data_id = ?", id).Delete(&AccessRecord{}).Error; err != nil {
				return err
			}
		}
		res := tx.Table(s.table).Where("id = ?", id).Delete(&RouteData{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, perrors.Wrap(err, perrors.CategoryPersistence, "delete route")
	}
	return deleted > 0, nil
}

// DeleteAll removes every route, optionally scoped to env, together with
// their access records.
func (s *RouteStore) DeleteAll(ctx context.Context, env *string) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.recordsTable != "" && tx.Migrator().HasTable(s.recordsTable) {
			rq := tx.Table(s.recordsTable)
			if env != nil {
				rq = rq.Where("route_data_id IN (?)", tx.Table(s.table).Select("id").Where("env = ?", *env))
			} else {
				rq = rq.Where("1 = 1")
			}
			if err := rq.Delete(&AccessRecord{}).Error; err != nil {
				return err
			}
		}
		q := tx.Table(s.table)
		if env != nil {
			q = q.Where("env = ?", *env)
		} else {
			q = q.Where("1 = 1")
		}
		res := q.Delete(&RouteData{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, perrors.Wrap(err, perrors.CategoryPersistence, "delete routes")
	}
	return deleted, nil
}

// Stats summarizes the routes of one environment.
type Stats struct {
	Env            string   `json:"env"`
	Routes         int64    `json:"routes"`
	TotalAccesses  int64    `json:"total_accesses"`
	AvgRequestTime *float64 `json:"avg_request_time"`
	MaxRequestTime *float64 `json:"max_request_time"`
	AvgQueries     *float64 `json:"avg_queries"`
	MaxQueries     *float64 `json:"max_queries"`
	MaxMemoryUsage *float64 `json:"max_memory_usage"`
	Reviewed       int64    `json:"reviewed"`
}

func (s *RouteStore) Statistics(ctx context.Context, env string) (Stats, error) {
	st := Stats{Env: env}
	err := s.q(ctx).
		Select(`COUNT(*) AS routes,
			COALESCE(SUM(access_count), 0) AS total_accesses,
			AVG(request_time) AS avg_request_time,
			MAX(request_time) AS max_request_time,
			AVG(total_queries) AS avg_queries,
			MAX(total_queries) AS max_queries,
			MAX(memory_usage) AS max_memory_usage,
			COALESCE(SUM(CASE WHEN reviewed THEN 1 ELSE 0 END), 0) AS reviewed`).
		Where("env = ?", env).
		Scan(&st).Error
	if err != nil {
		return Stats{}, perrors.Wrap(err, perrors.CategoryPersistence, "route statistics")
	}
	st.Env = env
	return st, nil
}
