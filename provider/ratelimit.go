package provider

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter records each tier's last-call timestamp in Redis so
// rate limiting survives process restarts, per SPEC_FULL.md §6.6.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter builds a limiter over an existing Redis client.
// client may be nil, in which case Allow always permits the call
// (best-effort rate limiting, never a hard dependency).
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "airadio:ratelimit:"}
}

// Allow reports whether key may be called now, given minGap since its
// last recorded call, and stamps the current time if so.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, minGap time.Duration) (bool, error) {
	if r.client == nil || minGap <= 0 {
		return true, nil
	}
	fullKey := r.prefix + key
	ok, err := r.client.SetNX(ctx, fullKey, time.Now().UnixMilli(), minGap).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}
