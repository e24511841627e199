package middleware

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"routeperf/internal/config"
	httpctx "routeperf/internal/http/ctx"
	"routeperf/internal/perf"
	"routeperf/internal/querytrack"
)

const recordTimeout = 5 * time.Second

// SampleRecorder is the part of *perf.Recorder the instrumentation needs.
type SampleRecorder interface {
	RecordMetrics(ctx context.Context, s perf.Sample) (perf.Result, error)
}

// Instrumenter measures requests and records one sample per request.
type Instrumenter struct {
	cfg *config.Config
	rec SampleRecorder

	// roll returns a number in [0, 1) for sampling decisions.
	roll func() float64
	// rss reports the resident set size of this process.
	rss func() (int64, bool)
	now func() time.Time
}

func NewInstrumenter(cfg *config.Config, rec SampleRecorder) *Instrumenter {
	return &Instrumenter{
		cfg:  cfg,
		rec:  rec,
		roll: rand.Float64,
		rss:  processRSS(),
		now:  time.Now,
	}
}

// Instrument wraps next so every tracked request records a sample.
func Instrument(cfg *config.Config, rec SampleRecorder) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return NewInstrumenter(cfg, rec).Wrap
}

func processRSS() func() (int64, bool) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logrus.WithError(err).Warn("process memory sampling unavailable")
		return func() (int64, bool) { return 0, false }
	}
	return func() (int64, bool) {
		mi, err := p.MemoryInfo()
		if err != nil || mi == nil {
			return 0, false
		}
		return int64(mi.RSS), true
	}
}

// sampled reports whether this request falls inside the sampling rate.
func (in *Instrumenter) sampled() bool {
	rate := in.cfg.SamplingRate
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return in.roll() < rate
}

// RouteName is the router's matched pattern, or the raw path when the
// router did not record one.
func RouteName(ctx *fasthttp.RequestCtx) string {
	if p, ok := ctx.UserValue(router.MatchedRoutePathParam).(string); ok && p != "" {
		return p
	}
	return string(ctx.Path())
}

func (in *Instrumenter) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !in.cfg.Enabled || !in.cfg.EnvironmentAllowed(in.cfg.Env) || !in.sampled() {
			next(ctx)
			return
		}

		requestID := string(ctx.Request.Header.Peek("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		httpctx.SetRequestID(ctx, requestID)

		var counter *querytrack.Counter
		if in.cfg.TrackQueries {
			counter = querytrack.Attach(ctx)
		}
		memBefore, memOK := in.rss()
		start := in.now()

		next(ctx)

		elapsed := in.now().Sub(start)
		name := RouteName(ctx)
		if in.cfg.RouteIgnored(name) || in.cfg.RouteIgnored(string(ctx.Path())) {
			return
		}

		method := string(ctx.Method())
		status := ctx.Response.StatusCode()
		s := perf.Sample{
			Route:          name,
			Env:            in.cfg.Env,
			HTTPMethod:     &method,
			StatusCode:     &status,
			Params:         queryParams(ctx),
			RequestID:      requestID,
			Referer:        string(ctx.Request.Header.Referer()),
			UserIdentifier: ctx.RemoteIP().String(),
			RoutePath:      string(ctx.RequestURI()),
			AccessedAt:     start.UTC(),
		}
		if in.cfg.TrackRequestTime {
			secs := elapsed.Seconds()
			s.RequestTime = &secs
		}
		if counter != nil {
			n := counter.Count()
			qt := counter.Duration().Seconds()
			s.TotalQueries = &n
			s.QueryTime = &qt
		}
		if memAfter, ok := in.rss(); ok && memOK {
			peak := max(memBefore, memAfter)
			s.MemoryUsage = &peak
		}

		rctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if _, err := in.rec.RecordMetrics(rctx, s); err != nil && in.cfg.EnableLogging {
			logrus.WithError(err).WithFields(logrus.Fields{
				"route":      name,
				"env":        in.cfg.Env,
				"request_id": requestID,
			}).Warn("failed to record route metrics")
		}
	}
}

func queryParams(ctx *fasthttp.RequestCtx) map[string]any {
	args := ctx.QueryArgs()
	if args.Len() == 0 {
		return nil
	}
	out := make(map[string]any, args.Len())
	args.VisitAll(func(k, v []byte) {
		out[string(k)] = string(v)
	})
	return out
}
