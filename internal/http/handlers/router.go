package handlers

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"routeperf/internal/db"
	"routeperf/internal/perf"
)

// Deps is what the admin API serves from. Records is nil when access
// records are disabled.
type Deps struct {
	Recorder *perf.Recorder
	Routes   *db.RouteStore
	Records  *db.RecordStore
	Metrics  *Metrics
	// Env answers requests that carry no env parameter.
	Env string
}

// NewRouter wires the admin API. auth guards everything under /api.
func NewRouter(d Deps, auth func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()
	r.SaveMatchedRoutePath = true

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	if d.Metrics != nil {
		r.GET("/metrics", d.Metrics.Handler())
	}

	api := r.Group("/api")
	api.GET("/routes", auth(ListRoutes(d.Routes, d.Env)))
	api.GET("/routes/worst", auth(WorstRoutes(d.Recorder, d.Env)))
	api.POST("/routes/{id}/review", auth(ReviewRoute(d.Routes, d.Recorder)))
	api.DELETE("/routes/{id}", auth(DeleteRoute(d.Routes, d.Recorder)))
	api.GET("/statistics", auth(Statistics(d.Recorder, d.Env)))
	api.GET("/environments", auth(Environments(d.Recorder)))
	api.POST("/clear", auth(ClearEnvironment(d.Routes, d.Recorder, d.Env)))
	api.GET("/export.csv", auth(ExportCSV(d.Routes, d.Env)))
	api.GET("/export.json", auth(ExportJSON(d.Routes, d.Env)))
	api.GET("/records", auth(ListRecords(d.Records, d.Env)))
	return r
}
