// password_handler.go -- handlers for the password reset and activation flows.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wind198/timelapse-server/internal/i18n"
	"github.com/wind198/timelapse-server/internal/store"
)

// RequestPasswordReset handles POST /auth/request-reset-password.
// Creates a reset temp key and emails the link. Requests inside the cooldown
// window are rejected so the mailbox cannot be flooded.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
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

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	now := time.Now()
	if user.LastResetPasswordRequestAt != nil && now.Sub(*user.LastResetPasswordRequestAt) < h.Policy.ResetCooldown {
		logInfo(r, "password reset requested inside cooldown", "user_id", user.ID)
		BadRequest(w, r, i18n.T("auth.errors.resetTooFrequent"))
		return
	}

	k, err := h.createTempKey(r.Context(), user, store.TempKeyResetPassword)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	if err := h.ML.SendResetPasswordEmail(r.Context(), user.Email, k.ID.String()); err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	// Stamp only after the email went out so a failed send does not start
	// the cooldown.
	if err := h.PS.SetLastResetPasswordRequestAt(r.Context(), user.ID, now); err != nil {
		logWarn(r, "failed to stamp reset request time", "user_id", user.ID, "error", err)
	}

	logInfo(r, "password reset email sent", "user_id", user.ID)
	Created(w, r, true)
}

// ResetPassword handles POST /auth/reset-password -- completes the reset flow.
// Reachable only with a RESET_PASSWORD temp key token.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), errors.New("missing identity in context"))
		return
	}

	var in struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}
	if msg := ValidatePassword(in.Password); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	if err := h.PS.UpdateUserPassword(r.Context(), identity.ID, hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), identity.ID)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	logInfo(r, "user reset password", "user_id", identity.ID)
	Created(w, r, PublicView(user))
}

// UpdatePassword handles POST /auth/update-password -- authenticated password
// change. The current password must verify before the new one is stored.
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), errors.New("missing identity in context"))
		return
	}

	var in struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}
	if in.CurrentPassword == "" {
		BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}
	if msg := ValidatePassword(in.NewPassword); msg != "" {
		BadRequest(w, r, msg)
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

	valid, err := VerifyPassword(in.CurrentPassword, user.PasswordHash)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	if !valid {
		logInfo(r, "password change attempted with wrong current password", "user_id", user.ID)
		BadRequest(w, r, i18n.T("auth.errors.wrongCurrentPassword"))
		return
	}

	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	if err := h.PS.UpdateUserPassword(r.Context(), user.ID, hash); err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	logInfo(r, "user changed password", "user_id", user.ID)
	Created(w, r, PublicView(user))
}

// ActivateAccount handles POST /auth/activate-account -- first password set.
// Reachable only with an ACTIVATE_ACCOUNT temp key token. Flips the account
// active in the same statement that stores the password.
func (h *Handler) ActivateAccount(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), errors.New("missing identity in context"))
		return
	}

	var in struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}
	if msg := ValidatePassword(in.Password); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	user, err := h.PS.ActivateUser(r.Context(), identity.ID, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	logInfo(r, "user activated account", "user_id", user.ID)
	Created(w, r, PublicView(user))
}
