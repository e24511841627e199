package handlers

import (
	"bytes"
	"encoding/csv"
	"math"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"routeperf/internal/db"
)

// utf8BOM lets spreadsheet tools detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var routesCSVHeader = []string{
	"Route Name",
	"HTTP Method",
	"Environment",
	"Request Time (s)",
	"Query Time (s)",
	"Total Queries",
	"Memory Usage (bytes)",
	"Access Count",
	"Last Accessed At",
	"Created At",
	"Reviewed",
}

func exportRoutes(ctx *fasthttp.RequestCtx, routes *db.RouteStore, defaultEnv string) ([]db.RouteData, string, bool) {
	env := envArg(ctx, defaultEnv)
	list, err := routes.FindWithFilters(ctx, db.Filters{
		Env:            env,
		Route:          queryString(ctx, "route"),
		MinRequestTime: queryFloatPtr(ctx, "min_request_time"),
		MaxRequestTime: queryFloatPtr(ctx, "max_request_time"),
		MinQueries:     queryIntPtr(ctx, "min_queries"),
		MaxQueries:     queryIntPtr(ctx, "max_queries"),
		SortBy:         "request_time",
		Order:          "desc",
	})
	if err != nil {
		failure(ctx, err, "failed to export routes")
		return nil, "", false
	}
	return list, env, true
}

// ExportCSV serves the routes of an environment as a CSV attachment.
// Unreported metrics are empty cells, not zeros.
func ExportCSV(routes *db.RouteStore, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		list, env, ok := exportRoutes(ctx, routes, defaultEnv)
		if !ok {
			return
		}

		var buf bytes.Buffer
		buf.Write(utf8BOM)
		w := csv.NewWriter(&buf)
		_ = w.Write(routesCSVHeader)
		for i := range list {
			r := &list[i]
			created := r.CreatedAt
			_ = w.Write([]string{
				r.Name,
				formatString(r.HTTPMethod),
				r.Env,
				formatFloat(r.RequestTime),
				formatFloat(r.QueryTime),
				formatInt(r.TotalQueries),
				formatInt(r.MemoryUsage),
				strconv.Itoa(r.AccessCount),
				formatTime(r.LastAccessedAt),
				formatTime(&created),
				strconv.FormatBool(r.Reviewed),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			failure(ctx, err, "failed to write CSV")
			return
		}

		ctx.SetContentType("text/csv; charset=UTF-8")
		ctx.Response.Header.Set("Content-Disposition",
			`attachment; filename="`+exportFilename("performance_metrics", env, "csv", time.Now())+`"`)
		ctx.SetBody(buf.Bytes())
	}
}

type exportedRoute struct {
	RouteName      string         `json:"route_name"`
	HTTPMethod     *string        `json:"http_method"`
	Environment    string         `json:"environment"`
	RequestTime    *float64       `json:"request_time"`
	QueryTime      *float64       `json:"query_time"`
	TotalQueries   *int           `json:"total_queries"`
	MemoryUsage    *int64         `json:"memory_usage"`
	MemoryUsageMB  *float64       `json:"memory_usage_mb"`
	AccessCount    int            `json:"access_count"`
	StatusCodes    db.StatusCodes `json:"status_codes"`
	Params         map[string]any `json:"params"`
	LastAccessedAt *string        `json:"last_accessed_at"`
	CreatedAt      *string        `json:"created_at"`
}

// ExportJSON serves the routes of an environment as a JSON attachment.
func ExportJSON(routes *db.RouteStore, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		list, env, ok := exportRoutes(ctx, routes, defaultEnv)
		if !ok {
			return
		}
		data := make([]exportedRoute, 0, len(list))
		for i := range list {
			r := &list[i]
			created := r.CreatedAt
			e := exportedRoute{
				RouteName:      r.Name,
				HTTPMethod:     r.HTTPMethod,
				Environment:    r.Env,
				RequestTime:    r.RequestTime,
				QueryTime:      r.QueryTime,
				TotalQueries:   r.TotalQueries,
				MemoryUsage:    r.MemoryUsage,
				AccessCount:    r.AccessCount,
				StatusCodes:    r.StatusCodes,
				Params:         r.Params,
				LastAccessedAt: formatISO(r.LastAccessedAt),
				CreatedAt:      formatISO(&created),
			}
			if r.MemoryUsage != nil {
				mb := math.Round(float64(*r.MemoryUsage)/1024/1024*100) / 100
				e.MemoryUsageMB = &mb
			}
			data = append(data, e)
		}

		now := time.Now()
		ctx.Response.Header.Set("Content-Disposition",
			`attachment; filename="`+exportFilename("performance_metrics", env, "json", now)+`"`)
		jsonResponse(ctx, map[string]any{
			"environment":   env,
			"exported_at":   now.UTC().Format(time.RFC3339),
			"total_records": len(data),
			"data":          data,
		})
	}
}

// ListRecords serves access records, newest first. records is nil when
// access records are disabled.
func ListRecords(records *db.RecordStore, defaultEnv string) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if records == nil {
			errResponse(ctx, fasthttp.StatusNotFound, "access records are disabled")
			return
		}
		f := db.RecordFilters{
			Env:   envArg(ctx, defaultEnv),
			Limit: queryInt(ctx, "limit", defaultListLimit, maxListLimit),
		}
		if id := queryIntPtr(ctx, "route_id"); id != nil && *id > 0 {
			f.RouteID = uint(*id)
		}
		if code := queryIntPtr(ctx, "status"); code != nil {
			f.StatusCode = *code
		}
		list, err := records.Find(ctx, f)
		if err != nil {
			failure(ctx, err, "failed to list access records")
			return
		}
		jsonResponse(ctx, map[string]any{"env": f.Env, "records": list, "total": len(list)})
	}
}
