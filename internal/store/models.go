// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// Role is the authorization role stored on a user row.
type Role string

const (
	RoleUser      Role = "USER"
	RoleRootAdmin Role = "ROOT_ADMIN"
)

// TempKeyType identifies which bootstrap flow a temp key belongs to.
// Constrained by DB CHECK on temp_keys.type.
type TempKeyType string

const (
	TempKeyActivateAccount TempKeyType = "ACTIVATE_ACCOUNT"
	TempKeyResetPassword   TempKeyType = "RESET_PASSWORD"
)

// User represents a row in the users table.
// Nullable columns are pointers; nil means SQL NULL.
type User struct {
	ID                         uuid.UUID
	Email                      string
	PasswordHash               string
	Role                       Role
	IsActive                   bool
	LastResetPasswordRequestAt *time.Time
	LastActivationEmailSentAt  *time.Time
	DeletedAt                  *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// Session represents a row in the user_sessions table: one refresh session.
// Rows are immutable after creation except for the logout/revocation stamps.
type Session struct {
	Key         uuid.UUID
	UserID      uuid.UUID
	ExpiresAt   time.Time
	LoggedOutAt *time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// Usable reports whether the session can still mint access tokens at now:
// never logged out, never revoked, not past expiry.
func (s *Session) Usable(now time.Time) bool {
	return s.LoggedOutAt == nil && s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// TempKey represents a row in the temp_keys table: a one-time bootstrap
// credential for account activation or password reset. Token is the signed
// payload embedding the key's own id and type.
type TempKey struct {
	ID        uuid.UUID
	Type      TempKeyType
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CachedSession is the JSON shape stored in Redis for cached refresh sessions.
// Email and Role ride along so an access-token refresh needs no user join on
// the cache path. Full metadata lives in Postgres.
type CachedSession struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}

// ListUsersParams filters and paginates ListUsers.
// Page is 1-based; PageSize <= 0 falls back to the store default.
type ListUsersParams struct {
	Email    string // substring match, empty matches all
	Page     int
	PageSize int
}

// UserPatch selects the user columns an admin update may change.
// Nil fields are left untouched.
type UserPatch struct {
	Email    *string
	Role     *Role
	IsActive *bool
}
