// Package querytrack counts the SQL statements a unit of work issues
// through gorm, and how long they took.
//
// A Counter rides along in the statement context. Requests served by
// fasthttp attach it as a user value, since *fasthttp.RequestCtx resolves
// context values from its user values.
package querytrack

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

type ctxKey struct{}

const startKey = "querytrack:start"

// Counter accumulates statement count and total duration.
type Counter struct {
	count atomic.Int64
	nanos atomic.Int64
}

// Add records one statement that took d.
func (c *Counter) Add(d time.Duration) {
	c.count.Add(1)
	c.nanos.Add(int64(d))
}

func (c *Counter) Count() int {
	return int(c.count.Load())
}

func (c *Counter) Duration() time.Duration {
	return time.Duration(c.nanos.Load())
}

func (c *Counter) Reset() {
	c.count.Store(0)
	c.nanos.Store(0)
}

// WithCounter returns a child context carrying a fresh Counter.
func WithCounter(ctx context.Context) (context.Context, *Counter) {
	c := &Counter{}
	return context.WithValue(ctx, ctxKey{}, c), c
}

// UserValueSetter is implemented by *fasthttp.RequestCtx.
type UserValueSetter interface {
	SetUserValue(key, value any)
}

// Attach stores a fresh Counter as a user value on s.
func Attach(s UserValueSetter) *Counter {
	c := &Counter{}
	s.SetUserValue(ctxKey{}, c)
	return c
}

// FromContext returns the Counter carried by ctx, or nil.
func FromContext(ctx context.Context) *Counter {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(ctxKey{}).(*Counter)
	return c
}

// Plugin registers the tracking callbacks on a gorm DB.
type Plugin struct{}

func (Plugin) Name() string {
	return "routeperf:querytrack"
}

func (Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("querytrack:before_create", before),
		cb.Create().After("gorm:create").Register("querytrack:after_create", after),
		cb.Query().Before("gorm:query").Register("querytrack:before_query", before),
		cb.Query().After("gorm:query").Register("querytrack:after_query", after),
		cb.Update().Before("gorm:update").Register("querytrack:before_update", before),
		cb.Update().After("gorm:update").Register("querytrack:after_update", after),
		cb.Delete().Before("gorm:delete").Register("querytrack:before_delete", before),
		cb.Delete().After("gorm:delete").Register("querytrack:after_delete", after),
		cb.Row().Before("gorm:row").Register("querytrack:before_row", before),
		cb.Row().After("gorm:row").Register("querytrack:after_row", after),
		cb.Raw().Before("gorm:raw").Register("querytrack:before_raw", before),
		cb.Raw().After("gorm:raw").Register("querytrack:after_raw", after),
	)
}

// Registered reports whether the plugin is installed on db.
func Registered(db *gorm.DB) bool {
	_, ok := db.Config.Plugins[Plugin{}.Name()]
	return ok
}

func before(db *gorm.DB) {
	if FromContext(db.Statement.Context) == nil {
		return
	}
	db.InstanceSet(startKey, time.Now())
}

func after(db *gorm.DB) {
	c := FromContext(db.Statement.Context)
	if c == nil {
		return
	}
	var elapsed time.Duration
	if v, ok := db.InstanceGet(startKey); ok {
		if start, ok := v.(time.Time); ok {
			elapsed = time.Since(start)
		}
	}
	c.Add(elapsed)
}
