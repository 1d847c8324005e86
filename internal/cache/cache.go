// Package cache is a thin fail-open key/value layer over redis. Every
// operation degrades to its empty value when the backend is unreachable, so
// callers always have a working (if slower) code path through the store.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTLs for the derived read-models.
const (
	TranslationTTL  = time.Hour
	LanguageListTTL = 24 * time.Hour
)

type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger}
}

// Get returns the cached value, or "" on miss or backend failure.
func (c *Cache) Get(ctx context.Context, key string) string {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return ""
	}
	if err != nil {
		c.miss(key, err)
		return ""
	}
	return val
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.miss(key, err)
	}
}

func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.miss(key, err)
	}
}

// DeletePattern removes every key matching a glob pattern, scanning in
// batches to avoid blocking the backend.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.miss(iter.Val(), err)
			return
		}
	}
	if err := iter.Err(); err != nil {
		c.miss(pattern, err)
	}
}

func (c *Cache) Exists(ctx context.Context, key string) bool {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		c.miss(key, err)
		return false
	}
	return n > 0
}

// Incr increments a counter and returns the new value, or 0 on failure.
func (c *Cache) Incr(ctx context.Context, key string) int64 {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		c.miss(key, err)
		return 0
	}
	return n
}

func (c *Cache) miss(key string, err error) {
	c.logger.Debug("cache backend unavailable, degrading to miss",
		zap.String("key", key),
		zap.Error(err))
}
