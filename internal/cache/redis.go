package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Cache backed by Redis. Values are stored as JSON and expire
// through Redis key TTLs, so no sweeping is needed.
//
// Redis failures are logged and treated as cache misses.
type RedisCache[V any] struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache whose keys are namespaced by prefix.
func NewRedisCache[V any](client *redis.Client, prefix string, logger *slog.Logger) *RedisCache[V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache[V]{client: client, prefix: prefix, logger: logger}
}

func (c *RedisCache[V]) key(k string) string {
	return c.prefix + k
}

// Get implements Cache.
func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var v V
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "redis cache get failed", "key", key, "error", err)
		}
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.WarnContext(ctx, "redis cache entry undecodable", "key", key, "error", err)
		return v, false
	}
	return v, true
}

// SetIfAbsent implements Cache using SET NX with expiry.
func (c *RedisCache[V]) SetIfAbsent(ctx context.Context, key string, value V, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "redis cache encode failed", "key", key, "error", err)
		return false
	}
	ok, err := c.client.SetNX(ctx, c.key(key), raw, ttl).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "redis cache set failed", "key", key, "error", err)
		return false
	}
	return ok
}

// Delete implements Cache.
func (c *RedisCache[V]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis cache delete failed", "key", key, "error", err)
	}
}
