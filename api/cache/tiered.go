package cache

import (
	"context"
	"encoding/json"
	"time"
)

const redisTimeout = 200 * time.Millisecond

// RedisClient is the part of the redis client the caches use.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Tiered keeps short lived values in memory in front of Redis.
type Tiered struct {
	mem      *MemCache
	redis    RedisClient
	memTTL   time.Duration
	redisTTL time.Duration
}

// NewTiered creates the two level cache. redis may be nil to cache in memory only.
func NewTiered(mem *MemCache, redis RedisClient, ttl time.Duration) *Tiered {
	memTTL := ttl / 5
	if memTTL < time.Second {
		memTTL = time.Second
	}

	return &Tiered{
		mem:      mem,
		redis:    redis,
		memTTL:   memTTL,
		redisTTL: ttl,
	}
}

// Fetch returns the cached value of key, loading and caching it on a miss.
// Cache failures only cost a reload.
func Fetch[T any](ctx context.Context, c *Tiered, key string, load func(context.Context) (T, error)) (T, error) {
	if mem := c.mem.Get(key); mem != nil {
		if v, ok := mem.(T); ok {
			return v, nil
		}
	}

	if v, ok := getFromRedis[T](ctx, c, key); ok {
		c.mem.Set(key, v, c.memTTL)
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	c.populate(ctx, key, v)
	return v, nil
}

// getFromRedis retrieves and decodes a value from redis.
func getFromRedis[T any](ctx context.Context, c *Tiered, key string) (T, bool) {
	var v T
	if c.redis == nil {
		return v, false
	}

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	cached, err := c.redis.Get(ctx, key)
	if err != nil || cached == "" {
		return v, false
	}
	if err := json.Unmarshal([]byte(cached), &v); err != nil {
		return v, false
	}
	return v, true
}

// populate will set the mem cache and redis cache.
func (c *Tiered) populate(ctx context.Context, key string, value any) {
	c.mem.Set(key, value, c.memTTL)

	if c.redis == nil {
		return
	}
	if j, err := json.Marshal(value); err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisTimeout)
		defer cancel()
		c.redis.Set(ctx, key, string(j), c.redisTTL)
	}
}

// Invalidate drops every key starting with prefix from both levels.
func (c *Tiered) Invalidate(ctx context.Context, prefix string) error {
	c.mem.DeletePrefix(prefix)
	if c.redis == nil {
		return nil
	}
	return c.redis.DeletePrefix(ctx, prefix)
}
