// redis.go -- go-redis client and refresh-session cache.
//
// Caches session rows keyed by their opaque key with TTL matching session
// expiry, so the common refresh path skips Postgres. Postgres stays the
// source of truth; every cache operation is non-fatal for callers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and pings it to verify connectivity.
// All Redis-backed structs (cache, rate limiter, mail queue) share one client.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for session cache operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a cache store over the shared client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb}
}

func sessionKey(key uuid.UUID) string {
	return fmt.Sprintf("session:%s", key)
}

func userSessionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("user_sessions:%s", userID)
}

// SetSession caches a refresh session with the given TTL (in seconds).
// Also tracks the session key in a per-user Set for bulk invalidation.
func (s *RedisStore) SetSession(ctx context.Context, key uuid.UUID, cached CachedSession, ttl int) error {
	out, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(key), out, time.Duration(ttl)*time.Second)
	pipe.SAdd(ctx, userSessionsKey(cached.UserID), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// GetSession retrieves a cached session by its key.
// Returns ErrCacheMiss when absent.
func (s *RedisStore) GetSession(ctx context.Context, key uuid.UUID) (*CachedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &cached, nil
}

// DeleteSession removes a single cached session and its entry in the
// per-user tracking Set.
func (s *RedisStore) DeleteSession(ctx context.Context, key uuid.UUID, userID uuid.UUID) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(key))
	pipe.SRem(ctx, userSessionsKey(userID), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions removes every cached session of a user.
// Uses the per-user Set to find which session keys belong to the user.
func (s *RedisStore) DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	setKey := userSessionsKey(userID)

	keys, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("fetching user sessions: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, k := range keys {
		pipe.Del(ctx, fmt.Sprintf("session:%s", k))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// NoopSessionCache satisfies the session cache contract when Redis is not
// configured: every lookup misses, every write succeeds.
type NoopSessionCache struct{}

func (NoopSessionCache) SetSession(context.Context, uuid.UUID, CachedSession, int) error {
	return nil
}

func (NoopSessionCache) GetSession(context.Context, uuid.UUID) (*CachedSession, error) {
	return nil, ErrCacheMiss
}

func (NoopSessionCache) DeleteSession(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (NoopSessionCache) DeleteAllUserSessions(context.Context, uuid.UUID) error {
	return nil
}
