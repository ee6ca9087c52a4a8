// Package ratelimit throttles authenticated API requests per user. The slot
// ledger already bounds sends per category; this layer bounds raw request
// volume across the whole API.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result reports the outcome of a limiter check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// RedisLimiter is a fixed-window counter on Redis. Each key gets one counter
// per window; INCR and EXPIRE run in a pipeline so concurrent requests agree
// on the count.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 120
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := time.Now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())

	pipe := l.client.Pipeline()
	count := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	taken := int(count.Val())
	result := &Result{
		Allowed:   taken <= l.limit,
		Limit:     l.limit,
		Remaining: max(0, l.limit-taken),
	}
	if !result.Allowed {
		result.RetryAfter = windowStart.Add(l.window).Sub(now)
	}
	return result, nil
}
