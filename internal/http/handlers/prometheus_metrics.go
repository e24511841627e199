package handlers

import (
	"bytes"
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"routeperf/internal/perf"
)

// Metrics holds the collectors fed by recorded samples. Each instance owns
// its registry so tests and multiple servers never collide on the global
// one.
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	queriesPerReq   *prometheus.HistogramVec
	statusTotal     *prometheus.CounterVec
	routeChanges    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeperf",
				Name:      "samples_recorded_total",
				Help:      "Samples written to the aggregate table, by outcome.",
			},
			[]string{"env", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routeperf",
				Name:      "request_duration_seconds",
				Help:      "Request time reported by recorded samples.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"env", "method"},
		),
		queriesPerReq: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routeperf",
				Name:      "queries_per_request",
				Help:      "Database statements reported by recorded samples.",
				Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"env"},
		),
		statusTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeperf",
				Name:      "responses_total",
				Help:      "Recorded samples by response status code.",
			},
			[]string{"env", "status"},
		),
		routeChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routeperf",
				Name:      "route_changes_total",
				Help:      "Admin changes to stored routes, by kind.",
			},
			[]string{"env", "kind"},
		),
	}
	m.registry.MustRegister(
		m.samplesTotal,
		m.requestDuration,
		m.queriesPerReq,
		m.statusTotal,
		m.routeChanges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts one recorded sample.
func (m *Metrics) Observe(s perf.Sample, res perf.Result) {
	outcome := "updated"
	if res.IsNew {
		outcome = "new"
	}
	m.samplesTotal.WithLabelValues(s.Env, outcome).Inc()

	if s.RequestTime != nil {
		method := "UNKNOWN"
		if s.HTTPMethod != nil {
			method = *s.HTTPMethod
		}
		m.requestDuration.WithLabelValues(s.Env, method).Observe(*s.RequestTime)
	}
	if s.TotalQueries != nil {
		m.queriesPerReq.WithLabelValues(s.Env).Observe(float64(*s.TotalQueries))
	}
	if s.StatusCode != nil {
		m.statusTotal.WithLabelValues(s.Env, strconv.Itoa(*s.StatusCode)).Inc()
	}
}

// Hook feeds the collectors from the recorder.
func (m *Metrics) Hook() perf.RecordedHook {
	return func(_ context.Context, s perf.Sample, res perf.Result) {
		m.Observe(s, res)
	}
}

// ChangeHook counts admin changes reported by the recorder.
func (m *Metrics) ChangeHook() perf.ChangeHook {
	return func(_ context.Context, c perf.Change) {
		m.routeChanges.WithLabelValues(c.Env, string(c.Kind)).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	return func(ctx *fasthttp.RequestCtx) {
		families, err := m.registry.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString("failed to gather metrics")
			return
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := encoder.Encode(mf); err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBodyString("failed to encode metrics")
				return
			}
		}

		ctx.SetContentType(string(format))
		ctx.Response.Header.Set("Cache-Control", "no-store")
		ctx.SetBody(buf.Bytes())
	}
}
