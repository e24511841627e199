package handlers

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
	"routeperf/internal/perf"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ListRoutes serves the aggregates of one environment with the filters and
// sort order taken from the query string.
func ListRoutes(routes *db.RouteStore, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		f := db.Filters{
			Env:            envArg(ctx, defaultEnv),
			Route:          queryString(ctx, "route"),
			Method:         queryString(ctx, "method"),
			MinRequestTime: queryFloatPtr(ctx, "min_request_time"),
			MaxRequestTime: queryFloatPtr(ctx, "max_request_time"),
			MinQueries:     queryIntPtr(ctx, "min_queries"),
			MaxQueries:     queryIntPtr(ctx, "max_queries"),
			SortBy:         queryString(ctx, "sort"),
			Order:          queryString(ctx, "order"),
			Limit:          queryInt(ctx, "limit", defaultListLimit, maxListLimit),
		}
		switch queryString(ctx, "reviewed") {
		case "1", "true":
			v := true
			f.Reviewed = &v
		case "0", "false":
			v := false
			f.Reviewed = &v
		}

		list, err := routes.FindWithFilters(ctx, f)
		if err != nil {
			failure(ctx, err, "failed to list routes")
			return
		}
		jsonResponse(ctx, map[string]any{"env": f.Env, "routes": list, "total": len(list)})
	}
}

func WorstRoutes(rec *perf.Recorder, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		env := envArg(ctx, defaultEnv)
		list, err := rec.WorstPerforming(ctx, env, queryInt(ctx, "limit", 10, maxListLimit))
		if err != nil {
			failure(ctx, err, "failed to list worst routes")
			return
		}
		jsonResponse(ctx, map[string]any{"env": env, "routes": list})
	}
}

func Statistics(rec *perf.Recorder, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		st, err := rec.Statistics(ctx, envArg(ctx, defaultEnv))
		if err != nil {
			failure(ctx, err, "failed to compute statistics")
			return
		}
		jsonResponse(ctx, st)
	}
}

func Environments(rec *perf.Recorder) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		envs, err := rec.Environments(ctx)
		if err != nil {
			failure(ctx, err, "failed to list environments")
			return
		}
		if envs == nil {
			envs = []string{}
		}
		jsonResponse(ctx, map[string]any{"environments": envs})
	}
}

type reviewRequest struct {
	QueriesImproved *bool   `json:"queries_improved"`
	TimeImproved    *bool   `json:"time_improved"`
	ReviewedBy      *string `json:"reviewed_by"`
}

// ReviewRoute marks a route as reviewed. The body is optional.
func ReviewRoute(routes *db.RouteStore, rec *perf.Recorder) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, ok := pathID(ctx)
		if !ok {
			return
		}
		var req reviewRequest
		if body := ctx.PostBody(); len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		route, err := findRoute(ctx, routes, id)
		if err != nil {
			failure(ctx, err, "failed to load route")
			return
		}
		if _, err := routes.MarkAsReviewed(ctx, id, req.QueriesImproved, req.TimeImproved, req.ReviewedBy); err != nil {
			failure(ctx, err, "failed to review route")
			return
		}
		rec.RouteChanged(ctx, perf.Change{Kind: perf.RouteReviewed, Env: route.Env, RouteID: id, Count: 1})

		route, err = routes.FindByID(ctx, id)
		if err != nil {
			failure(ctx, err, "failed to load route")
			return
		}
		jsonResponse(ctx, route)
	}
}

func DeleteRoute(routes *db.RouteStore, rec *perf.Recorder) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id, ok := pathID(ctx)
		if !ok {
			return
		}
		route, err := findRoute(ctx, routes, id)
		if err != nil {
			failure(ctx, err, "failed to load route")
			return
		}
		if _, err := routes.DeleteByID(ctx, id); err != nil {
			failure(ctx, err, "failed to delete route")
			return
		}
		rec.RouteChanged(ctx, perf.Change{Kind: perf.RouteDeleted, Env: route.Env, RouteID: id, Count: 1})
		jsonResponse(ctx, map[string]any{"deleted": id})
	}
}

// ClearEnvironment deletes every route of env and their access records.
func ClearEnvironment(routes *db.RouteStore, rec *perf.Recorder, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		env := envArg(ctx, defaultEnv)
		n, err := routes.DeleteAll(ctx, &env)
		if err != nil {
			failure(ctx, err, "failed to clear routes")
			return
		}
		rec.RouteChanged(ctx, perf.Change{Kind: perf.RoutesCleared, Env: env, Count: n})
		jsonResponse(ctx, map[string]any{"env": env, "deleted": n})
	}
}

// findRoute loads route id, turning a miss into ErrNotFound.
func findRoute(ctx context.Context, routes *db.RouteStore, id uint) (*db.RouteData, error) {
	route, err := routes.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if route == nil {
		return nil, perrors.Wrap(perrors.ErrNotFound, perrors.CategoryValidation, "route "+strconv.FormatUint(uint64(id), 10))
	}
	return route, nil
}
