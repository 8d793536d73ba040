// handler.go -- HTTP handlers for the /auth/* endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wind198/timelapse-server/internal/i18n"
	"github.com/wind198/timelapse-server/internal/mail"
	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/token"
)

// Store defines database operations needed by auth handlers and middleware.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// GetUserByEmail fetches a live user by email. Returns pgx.ErrNoRows when absent.
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)

	// GetUserByID fetches a live user by id. Returns pgx.ErrNoRows when absent.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	// UpdateUserEmail changes the user's email and returns the updated row.
	UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) (*store.User, error)

	// UpdateUserPassword replaces the stored password hash.
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// ActivateUser sets the password hash and flips is_active on.
	ActivateUser(ctx context.Context, id uuid.UUID, passwordHash string) (*store.User, error)

	// SetLastResetPasswordRequestAt stamps the reset-request cooldown timer.
	SetLastResetPasswordRequestAt(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetLastActivationEmailSentAt stamps the most recent activation email.
	SetLastActivationEmailSentAt(ctx context.Context, id uuid.UUID, at time.Time) error

	// CreateSession inserts a refresh session row.
	CreateSession(ctx context.Context, key uuid.UUID, userID uuid.UUID, expiresAt time.Time) error

	// GetSessionByKey fetches a session row regardless of validity.
	// Callers decide what expired or closed sessions mean.
	GetSessionByKey(ctx context.Context, key uuid.UUID) (*store.Session, error)

	// LogoutSession marks the session logged out. Idempotent.
	LogoutSession(ctx context.Context, key uuid.UUID) error

	// RevokeAllUserSessions revokes every session of the user.
	RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error

	// CreateTempKey inserts a single-use bootstrap key row.
	CreateTempKey(ctx context.Context, k *store.TempKey) error

	// GetTempKeyByID fetches a temp key row, expired or not.
	GetTempKeyByID(ctx context.Context, id uuid.UUID) (*store.TempKey, error)
}

// SessionCache defines session cache operations needed by auth middleware
// and handlers. Satisfied by *store.RedisStore.
type SessionCache interface {
	// GetSession retrieves a cached session by its key.
	GetSession(ctx context.Context, key uuid.UUID) (*store.CachedSession, error)

	// SetSession caches a session with the given TTL in seconds.
	SetSession(ctx context.Context, key uuid.UUID, s store.CachedSession, ttl int) error

	// DeleteSession removes a session and its entry in the user tracking set.
	DeleteSession(ctx context.Context, key uuid.UUID, userID uuid.UUID) error

	// DeleteAllUserSessions removes all cached sessions for a user.
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter.
type RateLimiter interface {
	// Allow checks whether the action is within policy, records the attempt.
	// Returns nil if allowed; store.ErrRateLimitExceeded if locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// TokenCodec signs and verifies access tokens.
// Satisfied by *token.Codec.
type TokenCodec interface {
	Sign(p token.Payload, ttl time.Duration) (string, error)
	Verify(raw string) (*token.Payload, error)
}

// Policy bundles the token lifetimes and throttles the handlers apply.
type Policy struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ActivateKeyTTL  time.Duration
	ResetKeyTTL     time.Duration
	ResetCooldown   time.Duration
	Login           store.RateLimit
	Cookies         CookiePolicy
}

// Handler holds dependencies for all /auth/* HTTP handlers and middleware.
type Handler struct {
	PS Store
	RS SessionCache
	RL RateLimiter
	ML mail.Mailer
	TC TokenCodec

	Policy Policy
}

// PublicUser is the user shape returned to clients. Never includes the
// password hash.
type PublicUser struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Role      store.Role `json:"role"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PublicView converts a store user to its client-facing shape.
func PublicView(u *store.User) PublicUser {
	return PublicUser{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// issueSession creates a refresh session for the user, caches it, and sets
// both token cookies. The access token carries tempKey when non-nil.
func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, u *store.User, tempKey *token.TempKeyData) error {
	payload := token.Payload{
		ID:         u.ID,
		Identifier: u.Email,
		Role:       string(u.Role),
		TempKey:    tempKey,
	}

	access, err := h.TC.Sign(payload, h.Policy.AccessTokenTTL)
	if err != nil {
		return err
	}

	key, err := uuid.NewV7()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(h.Policy.RefreshTokenTTL)
	if err := h.PS.CreateSession(r.Context(), key, u.ID, expiresAt); err != nil {
		return err
	}

	// Cache is best effort; Postgres is source of truth.
	cached := store.CachedSession{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		ExpiresAt: expiresAt,
	}
	if err := h.RS.SetSession(r.Context(), key, cached, int(h.Policy.RefreshTokenTTL.Seconds())); err != nil {
		logWarn(r, "failed to cache session", "error", err)
	}

	h.Policy.Cookies.SetAccessCookie(w, access, h.Policy.AccessTokenTTL)
	h.Policy.Cookies.SetRefreshCookie(w, key.String(), h.Policy.RefreshTokenTTL)
	return nil
}

// Login handles POST /auth/login -- email + password authentication.
// Unknown or inactive accounts get a generic 401; a wrong password on a known
// active account gets a 400 so the client can prompt a retry.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if msg := ValidateEmail(email); msg != "" {
		Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
		return
	}
	if in.Password == "" {
		Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
		return
	}

	// Rejected attempts never reach Argon2id.
	if err := h.RL.Allow(r.Context(), "login:email:"+email, h.Policy.Login); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logInfo(r, "login rate limited", "email", email)
			TooManyRequests(w, r, i18n.T("auth.errors.tooManyAttempts"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			EqualizeTiming(in.Password)
			logInfo(r, "login attempted with unknown email")
		} else {
			logError(r, "failed to fetch user for login", "error", err)
		}
		Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
		return
	}

	if !user.IsActive {
		logInfo(r, "login attempted on inactive account", "user_id", user.ID)
		Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
		return
	}

	valid, err := VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	if !valid {
		logInfo(r, "login attempted with wrong password", "user_id", user.ID)
		BadRequest(w, r, i18n.T("auth.errors.wrongPassword"))
		return
	}

	if err := h.issueSession(w, r, user, nil); err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	logInfo(r, "user logged in", "user_id", user.ID)
	Created(w, r, PublicView(user))
}

// Logout handles POST /auth/logout -- closes the current refresh session and
// clears both cookies. Succeeds even if the session is already closed.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), errors.New("missing identity in context"))
		return
	}

	if key, ok := SessionKeyFromContext(r.Context()); ok {
		if err := h.PS.LogoutSession(r.Context(), key); err != nil {
			InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
			return
		}
		if err := h.RS.DeleteSession(r.Context(), key, identity.ID); err != nil {
			logWarn(r, "failed to evict session from cache", "error", err)
		}
	}

	h.Policy.Cookies.ClearTokenCookies(w)
	logInfo(r, "user logged out", "user_id", identity.ID)
	Created(w, r, true)
}

// Me handles GET /auth/me -- returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), errors.New("missing identity in context"))
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), identity.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	OK(w, r, PublicView(user))
}

// UpdateProfile handles PATCH /auth/me -- lets the authenticated user change
// their own email. A fresh access token is minted so the identity embedded in
// the cookie keeps matching the live row.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), errors.New("missing identity in context"))
		return
	}

	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	user, err := h.PS.UpdateUserEmail(r.Context(), identity.ID, email)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			Conflict(w, r, i18n.T("user.errors.emailTaken"))
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	access, err := h.TC.Sign(token.Payload{
		ID:         user.ID,
		Identifier: user.Email,
		Role:       string(user.Role),
	}, h.Policy.AccessTokenTTL)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	h.Policy.Cookies.SetAccessCookie(w, access, h.Policy.AccessTokenTTL)

	logInfo(r, "user updated profile", "user_id", user.ID)
	OK(w, r, PublicView(user))
}
