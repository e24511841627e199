package perf

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"routeperf/internal/db"
)

// AggregateStore is the persistence the engine needs. *db.RouteStore
// satisfies it.
type AggregateStore interface {
	// FindByRouteAndEnv returns nil, nil when the aggregate does not exist.
	FindByRouteAndEnv(ctx context.Context, name, env string) (*db.RouteData, error)
	Create(ctx context.Context, r *db.RouteData) error
	Save(ctx context.Context, r *db.RouteData) error
}

// Result reports what RecordSample did.
type Result struct {
	IsNew      bool `json:"is_new"`
	WasUpdated bool `json:"was_updated"`

	// Route is the aggregate as persisted. Nil when nothing was written,
	// as in async mode.
	Route *db.RouteData `json:"-"`
}

// Engine applies samples to aggregates. It does not lock: two concurrent
// samples for the same key can lose an update, last write wins.
type Engine struct {
	store AggregateStore
	now   func() time.Time
}

func NewEngine(store AggregateStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// RecordSample looks up the aggregate of s and creates or updates it.
// tracked lists the status codes counted in the histogram; when it is
// empty every code is counted. Store errors are returned as is and the
// sample is not retried.
func (e *Engine) RecordSample(ctx context.Context, s Sample, tracked []int) (Result, error) {
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	existing, err := e.store.FindByRouteAndEnv(ctx, s.Route, s.Env)
	if err != nil {
		return Result{}, err
	}
	now := e.now().UTC()

	if existing == nil {
		r := &db.RouteData{
			Env:               s.Env,
			Name:              s.Route,
			HTTPMethod:        s.HTTPMethod,
			RequestTime:       s.RequestTime,
			TotalQueries:      s.TotalQueries,
			QueryTime:         s.QueryTime,
			MemoryUsage:       s.MemoryUsage,
			Params:            jsonMap(s.Params),
			AccessCount:       1,
			LastAccessedAt:    &now,
			SaveAccessRecords: true,
		}
		if countsStatus(s.StatusCode, tracked) {
			r.IncrementStatusCode(*s.StatusCode)
		}
		if err := e.store.Create(ctx, r); err != nil {
			return Result{}, err
		}
		return Result{IsNew: true, Route: r}, nil
	}

	if ShouldUpdate(existing, s.RequestTime, s.TotalQueries) {
		applyWorse(existing, s)
	}
	existing.AccessCount++
	existing.LastAccessedAt = &now
	existing.UpdatedAt = now
	if countsStatus(s.StatusCode, tracked) {
		existing.IncrementStatusCode(*s.StatusCode)
	}
	if err := e.store.Save(ctx, existing); err != nil {
		return Result{}, err
	}
	// The access count always moves, so an existing aggregate is always
	// reported as updated.
	return Result{WasUpdated: true, Route: existing}, nil
}

// ShouldUpdate reports whether a sample carries a worse or newly known
// request time or query count. Either dimension alone triggers the update.
// Samples without both metrics never do.
func ShouldUpdate(existing *db.RouteData, requestTime *float64, totalQueries *int) bool {
	if requestTime != nil && (existing.RequestTime == nil || *requestTime > *existing.RequestTime) {
		return true
	}
	if totalQueries != nil && (existing.TotalQueries == nil || *totalQueries > *existing.TotalQueries) {
		return true
	}
	return false
}

// applyWorse overwrites the representative metrics of r with those of s.
// A nil sample value means "not observed", not "cleared", so it keeps what
// is stored; params and method are replaced whenever the sample has them.
// Memory only ever grows.
func applyWorse(r *db.RouteData, s Sample) {
	if s.RequestTime != nil {
		r.RequestTime = s.RequestTime
	}
	if s.TotalQueries != nil {
		r.TotalQueries = s.TotalQueries
	}
	if s.QueryTime != nil {
		r.QueryTime = s.QueryTime
	}
	if s.Params != nil {
		r.Params = jsonMap(s.Params)
	}
	if s.HTTPMethod != nil {
		r.HTTPMethod = s.HTTPMethod
	}
	if s.MemoryUsage != nil && (r.MemoryUsage == nil || *s.MemoryUsage > *r.MemoryUsage) {
		r.MemoryUsage = s.MemoryUsage
	}
}

func countsStatus(code *int, tracked []int) bool {
	if code == nil {
		return false
	}
	if len(tracked) == 0 {
		return true
	}
	for _, c := range tracked {
		if c == *code {
			return true
		}
	}
	return false
}

// jsonMap converts params to the form they read back in from a JSON
// column: numbers become json.Number, nested values plain maps and slices.
// A value that cannot be encoded is kept as is and fails on save.
func jsonMap(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSONMap(m)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return datatypes.JSONMap(m)
	}
	return datatypes.JSONMap(out)
}
