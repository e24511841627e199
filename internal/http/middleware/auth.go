package middleware

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	"routeperf/internal/config"
	perrors "routeperf/internal/errors"
	httpctx "routeperf/internal/http/ctx"
)

// AdminTokenHash returns the bcrypt hash admin tokens are checked against:
// APP_ADMIN_TOKEN_HASH as is, or a fresh hash of APP_ADMIN_TOKEN. An empty
// hash means no admin token is configured.
func AdminTokenHash(cfg *config.Config) ([]byte, error) {
	if cfg.AdminTokenHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.AdminTokenHash)); err != nil {
			return nil, perrors.Wrap(err, perrors.CategoryConfig, "APP_ADMIN_TOKEN_HASH is not a bcrypt hash")
		}
		return []byte(cfg.AdminTokenHash), nil
	}
	if cfg.AdminToken == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryConfig, "hash APP_ADMIN_TOKEN")
	}
	return hash, nil
}

// BearerAuth validates Bearer tokens against the admin token hash. With no
// hash every request is refused.
func BearerAuth(hash []byte) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if len(hash) == 0 {
		logrus.Warn("no admin token configured, the admin API refuses every request")
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if len(hash) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("admin API disabled")
				return
			}

			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid Authorization header")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("empty bearer token")
				return
			}

			if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid token")
				return
			}

			httpctx.SetAdmin(ctx)
			next(ctx)
		}
	}
}
