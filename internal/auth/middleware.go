// middleware.go

// Request authentication middleware: access token verification with a
// same-response refresh path, temp key type binding, and role gating.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wind198/timelapse-server/internal/i18n"
	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/token"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const identityKey contextKey = "identity"
const sessionKeyKey contextKey = "session_key"
const refreshStateKey contextKey = "refresh_state"

// refreshState records, per request, whether an expired access token was
// resolved through the refresh session and which payload to re-sign. The
// response writer wrapper reads it when the handler commits a 2xx status.
type refreshState struct {
	needed  bool
	payload token.Payload
}

// IdentityFromContext retrieves the verified token payload from context.
// Returns nil and false if RequireAuth hasn't run.
func IdentityFromContext(ctx context.Context) (*token.Payload, bool) {
	p, ok := ctx.Value(identityKey).(*token.Payload)
	return p, ok
}

// SessionKeyFromContext retrieves the refresh session key from context.
// Returns zero UUID and false if RequireAuth hasn't run.
func SessionKeyFromContext(ctx context.Context) (uuid.UUID, bool) {
	key, ok := ctx.Value(sessionKeyKey).(uuid.UUID)
	return key, ok
}

func stateFromContext(ctx context.Context) *refreshState {
	st, _ := ctx.Value(refreshStateKey).(*refreshState)
	return st
}

// RequireAuth authenticates the request from its token cookies.
// A valid access token passes directly; an expired one is resolved through
// the refresh session (Redis first, Postgres as source of truth) and flags
// the request for a silent token renewal. The identity is then rechecked
// against the live user row so deleted or re-created accounts fail closed.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		toks := extractTokens(r)
		if toks.access == "" || toks.refresh == "" {
			logWarn(r, "require auth failed", "reason", "missing_token_cookie")
			Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
			return
		}

		sessionKey, err := uuid.FromString(toks.refresh)
		if err != nil {
			logWarn(r, "require auth failed", "reason", "malformed_refresh_key")
			Unauthorized(w, r, i18n.T("auth.errors.invalidRefreshToken"))
			return
		}

		payload, err := h.TC.Verify(toks.access)
		switch {
		case err == nil:
			// fresh access token, nothing to do
		case errors.Is(err, token.ErrExpired):
			payload = h.resolveRefresh(w, r, sessionKey)
			if payload == nil {
				return
			}
		default:
			logWarn(r, "require auth failed", "reason", "invalid_access_token")
			Unauthorized(w, r, i18n.T("auth.errors.invalidAccessToken"))
			return
		}

		// Tokens outlive account changes: recheck the live row.
		user, err := h.PS.GetUserByID(r.Context(), payload.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logWarn(r, "require auth failed", "reason", "user_gone", "user_id", payload.ID)
			} else {
				logError(r, "require auth failed fetching user", "error", err)
			}
			Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
			return
		}
		if user.Email != payload.Identifier {
			logWarn(r, "require auth failed", "reason", "identifier_mismatch", "user_id", user.ID)
			Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, payload)
		ctx = context.WithValue(ctx, sessionKeyKey, sessionKey)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveRefresh turns a usable refresh session into a synthesized token
// payload and flags the request for renewal. Writes the 401 itself and
// returns nil when the session cannot vouch for the caller. The synthesized
// payload never carries temp key data, so bootstrap privileges die with the
// short access token.
func (h *Handler) resolveRefresh(w http.ResponseWriter, r *http.Request, key uuid.UUID) *token.Payload {
	var payload *token.Payload

	cached, err := h.RS.GetSession(r.Context(), key)
	if err == nil {
		payload = &token.Payload{
			ID:         cached.UserID,
			Identifier: cached.Email,
			Role:       string(cached.Role),
		}
	} else {
		if !errors.Is(err, store.ErrCacheMiss) {
			logError(r, "session cache lookup failed, falling back to postgres", "error", err)
		}

		sess, err := h.PS.GetSessionByKey(r.Context(), key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logWarn(r, "refresh failed", "reason", "session_not_found")
				Unauthorized(w, r, i18n.T("auth.errors.invalidRefreshToken"))
			} else {
				logError(r, "refresh failed fetching session", "error", err)
				Unauthorized(w, r, i18n.T("auth.errors.unauthorized"))
			}
			return nil
		}
		if !sess.Usable(time.Now()) {
			logWarn(r, "refresh failed", "reason", "session_closed", "user_id", sess.UserID)
			Unauthorized(w, r, i18n.T("auth.errors.expiredRefreshToken"))
			return nil
		}

		user, err := h.PS.GetUserByID(r.Context(), sess.UserID)
		if err != nil {
			logWarn(r, "refresh failed", "reason", "user_gone", "user_id", sess.UserID)
			Unauthorized(w, r, i18n.T("auth.errors.invalidRefreshToken"))
			return nil
		}
		payload = &token.Payload{
			ID:         user.ID,
			Identifier: user.Email,
			Role:       string(user.Role),
		}

		// Repopulate cache, non-fatal on failure. Skip if TTL <= 0 -- SET
		// with TTL=0 means no expiry, not immediate expiry.
		if ttl := int(time.Until(sess.ExpiresAt).Seconds()); ttl > 0 {
			if err := h.RS.SetSession(r.Context(), key, store.CachedSession{
				UserID:    user.ID,
				Email:     user.Email,
				Role:      user.Role,
				ExpiresAt: sess.ExpiresAt,
			}, ttl); err != nil {
				logWarn(r, "failed to repopulate session cache", "error", err)
			}
		}
	}

	if st := stateFromContext(r.Context()); st != nil {
		st.needed = true
		st.payload = *payload
	}
	logDebug(r, "access token refreshed", "user_id", payload.ID)
	return payload
}

// RequireTempKeyType admits only requests whose access token carries temp
// key data of the given type. Install after RequireAuth.
func (h *Handler) RequireTempKeyType(typ store.TempKeyType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok || identity.TempKey == nil || identity.TempKey.Type != string(typ) {
				logWarn(r, "temp key gate failed", "want_type", typ)
				Unauthorized(w, r, i18n.T("auth.errors.invalidAccessToken"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits only the listed roles. ROOT_ADMIN always passes.
// Install after RequireAuth.
func (h *Handler) RequireRole(roles ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok || identity.Role == "" {
				Forbidden(w, r, i18n.T("auth.errors.roleInfoNotFound"))
				return
			}
			if identity.Role == string(store.RoleRootAdmin) {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if identity.Role == string(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			logWarn(r, "role gate failed", "role", identity.Role)
			Forbidden(w, r, i18n.T("auth.errors.roleNotAllowed"))
		})
	}
}
