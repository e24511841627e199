package middleware

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	httpctx "routeperf/internal/http/ctx"
)

// RequestLogger logs method, path, status and duration of every request.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		entry := logrus.WithFields(logrus.Fields{
			"method":   string(ctx.Method()),
			"path":     string(ctx.Path()),
			"status":   ctx.Response.StatusCode(),
			"duration": time.Since(start),
			"ip":       ctx.RemoteIP().String(),
		})
		if id, ok := httpctx.RequestIDFromCtx(ctx); ok {
			entry = entry.WithField("request_id", id)
		}
		entry.Info("request")
	}
}
