package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// newTestRedis starts an in-process Redis and returns a store over it.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

// --- SetSession + GetSession ---

func TestSetAndGetSession(t *testing.T) {
	ctx := context.Background()
	rs := newTestRedis(t)

	t.Run("round-trip stores and retrieves session", func(t *testing.T) {
		key := uuid.Must(uuid.NewV7())
		userID := uuid.Must(uuid.NewV7())
		cached := CachedSession{
			UserID:    userID,
			Email:     "cache@example.com",
			Role:      RoleUser,
			ExpiresAt: time.Now().Add(1 * time.Hour).Truncate(time.Second),
		}

		if err := rs.SetSession(ctx, key, cached, 3600); err != nil {
			t.Fatalf("SetSession failed: %v", err)
		}

		got, err := rs.GetSession(ctx, key)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.UserID != userID {
			t.Errorf("UserID: expected %v, got %v", userID, got.UserID)
		}
		if got.Email != cached.Email {
			t.Errorf("Email: expected %q, got %q", cached.Email, got.Email)
		}
		if got.Role != RoleUser {
			t.Errorf("Role: expected %q, got %q", RoleUser, got.Role)
		}
		if !got.ExpiresAt.Equal(cached.ExpiresAt) {
			t.Errorf("ExpiresAt: expected %v, got %v", cached.ExpiresAt, got.ExpiresAt)
		}
	})

	t.Run("miss returns ErrCacheMiss", func(t *testing.T) {
		_, err := rs.GetSession(ctx, uuid.Must(uuid.NewV7()))
		if !errors.Is(err, ErrCacheMiss) {
			t.Fatalf("expected ErrCacheMiss, got %v", err)
		}
	})
}

// --- DeleteSession ---

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	rs := newTestRedis(t)

	key := uuid.Must(uuid.NewV7())
	userID := uuid.Must(uuid.NewV7())
	cached := CachedSession{UserID: userID, Email: "del@example.com", Role: RoleUser, ExpiresAt: time.Now().Add(time.Hour)}

	if err := rs.SetSession(ctx, key, cached, 3600); err != nil {
		t.Fatalf("SetSession failed: %v", err)
	}
	if err := rs.DeleteSession(ctx, key, userID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := rs.GetSession(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after delete, got %v", err)
	}
}

// --- DeleteAllUserSessions ---

func TestDeleteAllUserSessions(t *testing.T) {
	ctx := context.Background()
	rs := newTestRedis(t)

	userID := uuid.Must(uuid.NewV7())
	otherID := uuid.Must(uuid.NewV7())
	keys := []uuid.UUID{uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7())}
	otherKey := uuid.Must(uuid.NewV7())

	for _, k := range keys {
		if err := rs.SetSession(ctx, k, CachedSession{UserID: userID, Email: "bulk@example.com", Role: RoleUser, ExpiresAt: time.Now().Add(time.Hour)}, 3600); err != nil {
			t.Fatalf("SetSession failed: %v", err)
		}
	}
	if err := rs.SetSession(ctx, otherKey, CachedSession{UserID: otherID, Email: "other@example.com", Role: RoleUser, ExpiresAt: time.Now().Add(time.Hour)}, 3600); err != nil {
		t.Fatalf("SetSession failed: %v", err)
	}

	if err := rs.DeleteAllUserSessions(ctx, userID); err != nil {
		t.Fatalf("DeleteAllUserSessions failed: %v", err)
	}

	for _, k := range keys {
		if _, err := rs.GetSession(ctx, k); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("session %s: expected ErrCacheMiss, got %v", k, err)
		}
	}
	// Other user's session must survive.
	if _, err := rs.GetSession(ctx, otherKey); err != nil {
		t.Errorf("other user's session: expected hit, got %v", err)
	}
}

// --- NoopSessionCache ---

func TestNoopSessionCache(t *testing.T) {
	ctx := context.Background()
	var c NoopSessionCache

	if err := c.SetSession(ctx, uuid.Must(uuid.NewV7()), CachedSession{}, 60); err != nil {
		t.Errorf("SetSession: expected nil, got %v", err)
	}
	if _, err := c.GetSession(ctx, uuid.Must(uuid.NewV7())); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("GetSession: expected ErrCacheMiss, got %v", err)
	}
}
