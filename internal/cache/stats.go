// Package cache holds the two-tier statistics cache: an in-process
// go-cache tier in front of an optional shared redis tier.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
)

const (
	statsPrefix     = "routeperf_stats_"
	environmentsKey = "routeperf_environments"
	// invalidateChannel tells other instances to drop their local tier.
	invalidateChannel = "routeperf_invalidate"

	redisTimeout = 5 * time.Second
)

// StatsKey is the cache key of the statistics of env.
func StatsKey(env string) string { return statsPrefix + env }

// StatsCache caches per-environment statistics and the environment list.
// It is safe for concurrent use. Redis failures are logged and treated as
// misses; the local tier keeps working.
type StatsCache struct {
	local  *gocache.Cache
	redis  *redis.Client
	pubsub *redis.PubSub
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

// New builds a StatsCache. An empty redisURL, or one whose server does not
// answer a ping, yields a local-only cache.
func New(ctx context.Context, redisURL string, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &StatsCache{
		local: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
	if redisURL == "" {
		return c
	}

	client, err := Dial(ctx, redisURL)
	if err != nil {
		logrus.WithError(err).Warn("redis unavailable, using local statistics cache only")
		return c
	}
	c.redis = client
	c.pubsub = client.Subscribe(context.Background(), invalidateChannel)
	go c.listen()
	logrus.WithField("component", "cache").Info("redis statistics cache enabled")
	return c
}

// Dial opens a redis client for url and pings it.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, perrors.Wrap(err, perrors.CategoryDependency, "ping redis")
	}
	return client, nil
}

// Shared reports whether the redis tier is active.
func (c *StatsCache) Shared() bool { return c.redis != nil }

func (c *StatsCache) listen() {
	for msg := range c.pubsub.Channel() {
		c.dropLocal(msg.Payload)
	}
}

func (c *StatsCache) dropLocal(env string) {
	c.local.Delete(StatsKey(env))
	c.local.Delete(environmentsKey)
}

func (c *StatsCache) get(ctx context.Context, key string, target any) bool {
	if v, ok := c.local.Get(key); ok {
		raw, ok := v.([]byte)
		return ok && json.Unmarshal(raw, target) == nil
	}
	if c.redis == nil {
		return false
	}
	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	raw, err := c.redis.Get(rctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).WithField("key", key).Warn("redis get failed")
		}
		return false
	}
	if json.Unmarshal(raw, target) != nil {
		return false
	}
	c.local.Set(key, raw, c.ttl)
	return true
}

func (c *StatsCache) set(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.local.Set(key, raw, c.ttl)
	if c.redis == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := c.redis.Set(rctx, key, raw, c.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("redis set failed")
	}
}

func (c *StatsCache) GetStats(ctx context.Context, env string) (db.Stats, bool) {
	var st db.Stats
	ok := c.get(ctx, StatsKey(env), &st)
	return st, ok
}

func (c *StatsCache) SetStats(ctx context.Context, env string, st db.Stats) {
	c.set(ctx, StatsKey(env), st)
}

func (c *StatsCache) GetEnvironments(ctx context.Context) ([]string, bool) {
	var envs []string
	ok := c.get(ctx, environmentsKey, &envs)
	return envs, ok
}

func (c *StatsCache) SetEnvironments(ctx context.Context, envs []string) {
	c.set(ctx, environmentsKey, envs)
}

// InvalidateEnv drops the statistics of env and the environment list from
// both tiers, and tells other instances to do the same.
func (c *StatsCache) InvalidateEnv(ctx context.Context, env string) {
	c.dropLocal(env)
	if c.redis == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := c.redis.Del(rctx, StatsKey(env), environmentsKey).Err(); err != nil {
		logrus.WithError(err).WithField("env", env).Warn("redis invalidate failed")
		return
	}
	if err := c.redis.Publish(rctx, invalidateChannel, env).Err(); err != nil {
		logrus.WithError(err).Debug("redis invalidate broadcast failed")
	}
}

// Close releases the redis connection, if any.
func (c *StatsCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.redis == nil {
		return nil
	}
	c.closed = true
	if c.pubsub != nil {
		c.pubsub.Close()
	}
	return c.redis.Close()
}
