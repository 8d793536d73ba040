// ratelimit.go -- Redis-backed fixed-window rate limiter with lockout.
//
// Counts attempts per key inside a window; once the policy's MaxAttempts is
// hit, a lockout key blocks further attempts for LockoutTTL.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter checks and records rate limit state in Redis.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a rate limiter over the shared client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb}
}

// Allow records one attempt for key under policy.
// Returns nil if the attempt is allowed, ErrRateLimitExceeded if the caller
// is locked out or just crossed the threshold, and a wrapped error on Redis
// failure (callers decide whether to fail open).
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}

	lockKey := fmt.Sprintf("ratelimit:lock:%s", key)
	countKey := fmt.Sprintf("ratelimit:count:%s", key)

	locked, err := l.rdb.Exists(ctx, lockKey).Result()
	if err != nil {
		return fmt.Errorf("checking lockout: %w", err)
	}
	if locked > 0 {
		return ErrRateLimitExceeded
	}

	n, err := l.rdb.Incr(ctx, countKey).Result()
	if err != nil {
		return fmt.Errorf("recording attempt: %w", err)
	}
	if n == 1 {
		// First attempt opens the window. Expiry failure is non-fatal: the
		// count key would linger, which only over-counts.
		if err := l.rdb.Expire(ctx, countKey, policy.Window).Err(); err != nil {
			return fmt.Errorf("setting window expiry: %w", err)
		}
	}

	if n > int64(policy.MaxAttempts) {
		if err := l.rdb.Set(ctx, lockKey, 1, policy.LockoutTTL).Err(); err != nil {
			return fmt.Errorf("setting lockout: %w", err)
		}
		// Lockout replaces the window count.
		if err := l.rdb.Del(ctx, countKey).Err(); err != nil {
			return fmt.Errorf("resetting attempt count: %w", err)
		}
		return ErrRateLimitExceeded
	}

	return nil
}

// NoopRateLimiter allows everything. Used when Redis is not configured.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error {
	return nil
}
