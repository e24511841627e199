package perf

import (
	"context"

	"github.com/sirupsen/logrus"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
)

// Publisher hands a sample to an out-of-band consumer.
type Publisher interface {
	Publish(ctx context.Context, s Sample) error
}

// StatsCache caches the read side. Implementations must be safe for
// concurrent use; misses and backend failures both report false.
type StatsCache interface {
	GetStats(ctx context.Context, env string) (db.Stats, bool)
	SetStats(ctx context.Context, env string, st db.Stats)
	GetEnvironments(ctx context.Context) ([]string, bool)
	SetEnvironments(ctx context.Context, envs []string)
	InvalidateEnv(ctx context.Context, env string)
}

// BeforeHook may adjust a sample before it is recorded or published.
type BeforeHook func(ctx context.Context, s *Sample)

// RecordedHook runs after a sample was written synchronously.
type RecordedHook func(ctx context.Context, s Sample, res Result)

// ChangeKind names an admin change to stored routes.
type ChangeKind string

const (
	RouteReviewed ChangeKind = "reviewed"
	RouteDeleted  ChangeKind = "deleted"
	RoutesCleared ChangeKind = "cleared"
)

// Change is an admin change that has been committed. RouteID is zero when
// a whole environment was cleared; Count is the number of routes affected.
type Change struct {
	Kind    ChangeKind
	Env     string
	RouteID uint
	Count   int64
}

// ChangeHook runs after RouteChanged.
type ChangeHook func(ctx context.Context, c Change)

// Options configures a Recorder.
type Options struct {
	TrackedStatusCodes []int
	Async              bool
	AccessRecords      bool
	// Logging logs outcomes and failures. Failures are returned either way.
	Logging bool
}

// Recorder is the entry point for recording samples. It writes through
// the Engine, or publishes when async mode is on, and keeps the access
// records and the statistics cache in step.
type Recorder struct {
	engine  *Engine
	routes  *db.RouteStore
	records *db.RecordStore
	opts    Options

	publisher Publisher
	cache     StatsCache
	before    []BeforeHook
	after     []RecordedHook
	changed   []ChangeHook
}

// NewRecorder builds a Recorder. records may be nil when access records
// are disabled.
func NewRecorder(routes *db.RouteStore, records *db.RecordStore, opts Options) *Recorder {
	return &Recorder{
		engine:  NewEngine(routes),
		routes:  routes,
		records: records,
		opts:    opts,
	}
}

func (r *Recorder) SetPublisher(p Publisher)   { r.publisher = p }
func (r *Recorder) SetCache(c StatsCache)      { r.cache = c }
func (r *Recorder) OnBefore(h BeforeHook)      { r.before = append(r.before, h) }
func (r *Recorder) OnRecorded(h RecordedHook) { r.after = append(r.after, h) }
func (r *Recorder) OnChange(h ChangeHook)     { r.changed = append(r.changed, h) }

// Async reports whether samples are published instead of written.
func (r *Recorder) Async() bool { return r.opts.Async && r.publisher != nil }

// RecordMetrics records s. In async mode the sample is published and the
// result is always {false, false}: the outcome is not known yet.
func (r *Recorder) RecordMetrics(ctx context.Context, s Sample) (Result, error) {
	if err := s.Validate(); err != nil {
		return Result{}, err
	}
	for _, h := range r.before {
		h(ctx, &s)
	}

	if r.Async() {
		if err := r.publisher.Publish(ctx, s); err != nil {
			return Result{}, r.fail(s, perrors.Wrap(err, perrors.CategoryDependency, "publish sample"))
		}
		return Result{}, nil
	}
	return r.RecordSync(ctx, s)
}

// RecordSync writes s through the engine regardless of async mode. The
// queue consumer uses it.
func (r *Recorder) RecordSync(ctx context.Context, s Sample) (Result, error) {
	res, err := r.engine.RecordSample(ctx, s, r.opts.TrackedStatusCodes)
	if err != nil {
		return Result{}, r.fail(s, err)
	}
	if r.cache != nil {
		r.cache.InvalidateEnv(ctx, s.Env)
	}

	if r.opts.AccessRecords && r.records != nil && res.Route.SaveAccessRecords {
		rec := &db.AccessRecord{
			AccessedAt:     s.AccessedAt.UTC(),
			StatusCode:     s.StatusCode,
			ResponseTime:   s.RequestTime,
			TotalQueries:   s.TotalQueries,
			QueryTime:      s.QueryTime,
			MemoryUsage:    s.MemoryUsage,
			RequestID:      optString(s.RequestID),
			Referer:        optString(s.Referer),
			UserIdentifier: optString(s.UserIdentifier),
			UserID:         optString(s.UserID),
			RoutePath:      optString(s.RoutePath),
		}
		if s.AccessedAt.IsZero() {
			rec.AccessedAt = r.engine.now().UTC()
		}
		if len(s.Params) > 0 {
			rec.RouteParams = jsonMap(s.Params)
		}
		rec.SetRouteData(res.Route)
		if _, err := r.records.Create(ctx, rec); err != nil {
			return res, r.fail(s, err)
		}
	}

	for _, h := range r.after {
		h(ctx, s, res)
	}
	if r.opts.Logging {
		logrus.WithFields(logrus.Fields{
			"route":       s.Route,
			"env":         s.Env,
			"is_new":      res.IsNew,
			"was_updated": res.WasUpdated,
		}).Debug("sample recorded")
	}
	return res, nil
}

func (r *Recorder) fail(s Sample, err error) error {
	if r.opts.Logging {
		logrus.WithError(err).WithFields(logrus.Fields{"route": s.Route, "env": s.Env}).Error("recording sample failed")
	}
	return err
}

// RouteData returns the aggregate of (name, env), or nil.
func (r *Recorder) RouteData(ctx context.Context, name, env string) (*db.RouteData, error) {
	return r.routes.FindByRouteAndEnv(ctx, name, env)
}

func (r *Recorder) RoutesByEnvironment(ctx context.Context, env string) ([]db.RouteData, error) {
	return r.routes.FindByEnvironment(ctx, env)
}

func (r *Recorder) WorstPerforming(ctx context.Context, env string, limit int) ([]db.RouteData, error) {
	return r.routes.WorstPerforming(ctx, env, limit)
}

// Statistics returns the summary of env, from the cache when possible.
func (r *Recorder) Statistics(ctx context.Context, env string) (db.Stats, error) {
	if r.cache != nil {
		if st, ok := r.cache.GetStats(ctx, env); ok {
			return st, nil
		}
	}
	st, err := r.routes.Statistics(ctx, env)
	if err != nil {
		return db.Stats{}, err
	}
	if r.cache != nil {
		r.cache.SetStats(ctx, env, st)
	}
	return st, nil
}

// Environments lists the known environments, from the cache when possible.
func (r *Recorder) Environments(ctx context.Context) ([]string, error) {
	if r.cache != nil {
		if envs, ok := r.cache.GetEnvironments(ctx); ok {
			return envs, nil
		}
	}
	envs, err := r.routes.Environments(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetEnvironments(ctx, envs)
	}
	return envs, nil
}

// InvalidateEnv drops the cached statistics of env.
func (r *Recorder) InvalidateEnv(ctx context.Context, env string) {
	if r.cache != nil {
		r.cache.InvalidateEnv(ctx, env)
	}
}

// RouteChanged is called by admin operations after they reviewed, deleted
// or cleared routes. It drops the cached statistics of c.Env and runs the
// change hooks.
func (r *Recorder) RouteChanged(ctx context.Context, c Change) {
	r.InvalidateEnv(ctx, c.Env)
	if r.opts.Logging {
		logrus.WithFields(logrus.Fields{
			"change":   c.Kind,
			"env":      c.Env,
			"route_id": c.RouteID,
			"count":    c.Count,
		}).Info("routes changed")
	}
	for _, h := range r.changed {
		h(ctx, c)
	}
}
