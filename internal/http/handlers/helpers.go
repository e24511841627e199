package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	perrors "routeperf/internal/errors"
)

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// failure maps err onto a status code by category and logs server-side
// failures.
func failure(ctx *fasthttp.RequestCtx, err error, msg string) {
	if errors.Is(err, perrors.ErrNotFound) {
		errResponse(ctx, fasthttp.StatusNotFound, err.Error())
		return
	}
	switch perrors.GetCategory(err) {
	case perrors.CategoryValidation:
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
	case perrors.CategoryDependency:
		logrus.WithError(err).Warn(msg)
		errResponse(ctx, fasthttp.StatusServiceUnavailable, msg)
	default:
		logrus.WithError(err).Error(msg)
		errResponse(ctx, fasthttp.StatusInternalServerError, msg)
	}
}

// pathID reads the positive integer route parameter "id". It answers 400
// and reports false when the parameter is missing or malformed.
func pathID(ctx *fasthttp.RequestCtx) (uint, bool) {
	idStr, _ := ctx.UserValue("id").(string)
	if idStr == "" {
		errResponse(ctx, fasthttp.StatusBadRequest, "id required")
		return 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		errResponse(ctx, fasthttp.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func queryString(ctx *fasthttp.RequestCtx, key string) string {
	return strings.TrimSpace(string(ctx.QueryArgs().Peek(key)))
}

// queryInt returns def unless key holds a positive integer, capped at max.
func queryInt(ctx *fasthttp.RequestCtx, key string, def, max int) int {
	n, err := strconv.Atoi(queryString(ctx, key))
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func queryIntPtr(ctx *fasthttp.RequestCtx, key string) *int {
	n, err := strconv.Atoi(queryString(ctx, key))
	if err != nil {
		return nil
	}
	return &n
}

func queryFloatPtr(ctx *fasthttp.RequestCtx, key string) *float64 {
	f, err := strconv.ParseFloat(queryString(ctx, key), 64)
	if err != nil {
		return nil
	}
	return &f
}

// envArg is the env query parameter, or def when absent.
func envArg(ctx *fasthttp.RequestCtx, def string) string {
	if env := queryString(ctx, "env"); env != "" {
		return env
	}
	return def
}
