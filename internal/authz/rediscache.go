package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	globalEpochKey     = "authz:epoch"
	subjectEpochPrefix = "authz:epoch:subject:"
	decisionPrefix     = "authz:decision:"
)

// RedisCache is a shared decision cache. Keys embed a global and a
// per-subject epoch counter, so invalidation is a single INCR instead of a
// key scan; superseded entries simply age out via TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache constructs a Redis-backed decision cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) decisionKey(ctx context.Context, subjectID, permissionSlug, scopeKey string) (string, error) {
	epochs, err := c.client.MGet(ctx, globalEpochKey, subjectEpochPrefix+subjectID).Result()
	if err != nil {
		return "", err
	}
	global, subject := "0", "0"
	if s, ok := epochs[0].(string); ok {
		global = s
	}
	if s, ok := epochs[1].(string); ok {
		subject = s
	}
	return fmt.Sprintf("%s%s:%s:%s:%s:%s", decisionPrefix, global, subject, subjectID, permissionSlug, scopeKey), nil
}

// Get returns a cached decision if present. Redis failures degrade to a
// cache miss.
func (c *RedisCache) Get(ctx context.Context, subjectID, permissionSlug, scopeKey string) (bool, bool) {
	key, err := c.decisionKey(ctx, subjectID, permissionSlug, scopeKey)
	if err != nil {
		c.logger.Warn("decision cache get", slog.Any("error", err))
		return false, false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("decision cache get", slog.Any("error", err))
		}
		return false, false
	}
	return val == "1", true
}

// Set stores a decision under the current epochs.
func (c *RedisCache) Set(ctx context.Context, subjectID, permissionSlug, scopeKey string, allowed bool) {
	key, err := c.decisionKey(ctx, subjectID, permissionSlug, scopeKey)
	if err != nil {
		c.logger.Warn("decision cache set", slog.Any("error", err))
		return
	}
	val := "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn("decision cache set", slog.Any("error", err))
	}
}

// InvalidateSubject advances the subject's epoch, orphaning its entries.
func (c *RedisCache) InvalidateSubject(ctx context.Context, subjectID string) {
	if err := c.client.Incr(ctx, subjectEpochPrefix+subjectID).Err(); err != nil {
		c.logger.Error("decision cache invalidate subject", slog.Any("error", err))
	}
}

// InvalidateAll advances the global epoch, orphaning every entry.
func (c *RedisCache) InvalidateAll(ctx context.Context) {
	if err := c.client.Incr(ctx, globalEpochKey).Err(); err != nil {
		c.logger.Error("decision cache invalidate all", slog.Any("error", err))
	}
}
