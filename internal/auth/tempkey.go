// tempkey.go
//
// Single-use bootstrap keys for account activation and password reset.
// A temp key row pairs a random id (sent in the email link) with a signed
// access token whose payload carries the key's id and type; redeeming the id
// hands the browser that token plus a fresh refresh session.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/wind198/timelapse-server/internal/i18n"
	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/token"
)

// tempKeyTTL returns the lifetime for a key of the given type.
func (h *Handler) tempKeyTTL(typ store.TempKeyType) time.Duration {
	if typ == store.TempKeyActivateAccount {
		return h.Policy.ActivateKeyTTL
	}
	return h.Policy.ResetKeyTTL
}

// createTempKey mints and persists a temp key for the user. The embedded
// token expires together with the key.
func (h *Handler) createTempKey(ctx context.Context, u *store.User, typ store.TempKeyType) (*store.TempKey, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	ttl := h.tempKeyTTL(typ)
	signed, err := h.TC.Sign(token.Payload{
		ID:         u.ID,
		Identifier: u.Email,
		Role:       string(u.Role),
		TempKey:    &token.TempKeyData{ID: id.String(), Type: string(typ)},
	}, ttl)
	if err != nil {
		return nil, err
	}

	k := &store.TempKey{
		ID:        id,
		Type:      typ,
		UserID:    u.ID,
		Token:     signed,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := h.PS.CreateTempKey(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

// SendActivationEmail creates an activation temp key for u and emails the
// link. Exposed so admin user creation can trigger the same flow.
func (h *Handler) SendActivationEmail(ctx context.Context, u *store.User) error {
	k, err := h.createTempKey(ctx, u, store.TempKeyActivateAccount)
	if err != nil {
		return err
	}
	if err := h.ML.SendActivationEmail(ctx, u.Email, k.ID.String()); err != nil {
		return err
	}
	if err := h.PS.SetLastActivationEmailSentAt(ctx, u.ID, time.Now()); err != nil {
		slog.Warn("failed to stamp activation email time", "user_id", u.ID, "error", err)
	}
	return nil
}

// RetrieveTokensFromTempKey handles GET /auth/retrieve-tokens-from-tempkey/{id}.
// Exchanges a temp key id from an email link for cookies: the key's embedded
// access token plus a fresh refresh session. The key stays redeemable until
// it expires.
func (h *Handler) RetrieveTokensFromTempKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, r, i18n.T("tempkey.errors.malformedId"))
		return
	}

	k, err := h.PS.GetTempKeyByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("tempkey.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	now := time.Now()
	if k.ExpiresAt.Before(now) {
		logInfo(r, "expired temp key redeemed", "temp_key_id", k.ID, "type", k.Type)
		BadRequest(w, r, i18n.T("tempkey.errors.expired"))
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), k.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	key, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	expiresAt := now.Add(h.Policy.RefreshTokenTTL)
	if err := h.PS.CreateSession(r.Context(), key, user.ID, expiresAt); err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	cached := store.CachedSession{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}
	if err := h.RS.SetSession(r.Context(), key, cached, int(h.Policy.RefreshTokenTTL.Seconds())); err != nil {
		logWarn(r, "failed to cache session", "error", err)
	}

	// The stored token already carries the key's id and type; its remaining
	// lifetime bounds the cookie.
	h.Policy.Cookies.SetAccessCookie(w, k.Token, time.Until(k.ExpiresAt))
	h.Policy.Cookies.SetRefreshCookie(w, key.String(), h.Policy.RefreshTokenTTL)

	logInfo(r, "temp key redeemed", "temp_key_id", k.ID, "type", k.Type, "user_id", user.ID)
	OK(w, r, true)
}
