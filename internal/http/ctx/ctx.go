package ctx

import (
	"github.com/valyala/fasthttp"
)

const (
	RequestIDKey = "requestID"
	AdminKey     = "admin"
)

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(RequestIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SetAdmin marks the request as authenticated against the admin token.
func SetAdmin(ctx *fasthttp.RequestCtx) {
	ctx.SetUserValue(AdminKey, true)
}

func IsAdmin(ctx *fasthttp.RequestCtx) bool {
	v, _ := ctx.UserValue(AdminKey).(bool)
	return v
}
