// handler.go -- admin HTTP handlers for the /users/* endpoints.
//
// All routes here sit behind the ROOT_ADMIN role gate; these handlers do
// not re-check roles themselves.
package users

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wind198/timelapse-server/internal/auth"
	"github.com/wind198/timelapse-server/internal/i18n"
	"github.com/wind198/timelapse-server/internal/store"
)

// Store defines database operations needed by the user admin handlers.
// Satisfied by *store.PostgresStore.
type Store interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	ListUsers(ctx context.Context, params store.ListUsersParams) ([]store.User, int64, error)
	UpdateUser(ctx context.Context, id uuid.UUID, patch store.UserPatch) (*store.User, error)
	SoftDeleteUser(ctx context.Context, id uuid.UUID) error
	RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// SessionCache is the slice of the cache the admin handlers need for
// evicting sessions of deleted or demoted users.
type SessionCache interface {
	DeleteAllUserSessions(ctx context.Context, userID uuid.UUID) error
}

// Activation triggers the activation email flow for a freshly created user.
// Satisfied by *auth.Handler.
type Activation interface {
	SendActivationEmail(ctx context.Context, u *store.User) error
}

// Handler holds dependencies for the /users/* HTTP handlers.
type Handler struct {
	PS Store
	RS SessionCache
	AC Activation
}

type pagination struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

type listBody struct {
	Data       []auth.PublicUser `json:"data"`
	Pagination pagination        `json:"pagination"`
}

// randomPassword returns a throwaway high-entropy password for accounts that
// will set their real password through the activation link.
func randomPassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func userIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.FromString(chi.URLParam(r, "id"))
}

// List handles GET /users -- paginated listing with optional email filter.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := store.ListUsersParams{Email: strings.TrimSpace(q.Get("email"))}
	if v := q.Get("page"); v != "" {
		params.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("pageSize"); v != "" {
		params.PageSize, _ = strconv.Atoi(v)
	}

	list, total, err := h.PS.ListUsers(r.Context(), params)
	if err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	page := params.Page
	if page <= 0 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = store.DefaultPageSize
	}
	if pageSize > store.MaxPageSize {
		pageSize = store.MaxPageSize
	}

	out := make([]auth.PublicUser, 0, len(list))
	for i := range list {
		out = append(out, auth.PublicView(&list[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(listBody{
		Data:       out,
		Pagination: pagination{Total: total, Page: page, PageSize: pageSize},
	}); err != nil {
		return
	}
}

// Get handles GET /users/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	auth.OK(w, r, auth.PublicView(user))
}

// Create handles POST /users -- admin account creation.
// The account starts inactive with a throwaway password; the activation
// email carries the temp key that lets the user set a real one.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string     `json:"email"`
		Role  store.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if msg := auth.ValidateEmail(email); msg != "" {
		auth.BadRequest(w, r, msg)
		return
	}
	role := in.Role
	if role == "" {
		role = store.RoleUser
	}
	if role != store.RoleUser && role != store.RoleRootAdmin {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	pwd, err := randomPassword()
	if err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	hash, err := auth.HashPassword(pwd)
	if err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	user := &store.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     false,
	}
	if err := h.PS.CreateUser(r.Context(), user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			auth.Conflict(w, r, i18n.T("user.errors.emailTaken"))
			return
		}
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	if err := h.AC.SendActivationEmail(r.Context(), user); err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	auth.Created(w, r, auth.PublicView(user))
}

// Update handles PATCH /users/{id} -- partial admin edit of email, role,
// or active flag.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	var in struct {
		Email    *string     `json:"email"`
		Role     *store.Role `json:"role"`
		IsActive *bool       `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}
	if in.Email == nil && in.Role == nil && in.IsActive == nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}
	if in.Email != nil {
		trimmed := strings.ToLower(strings.TrimSpace(*in.Email))
		if msg := auth.ValidateEmail(trimmed); msg != "" {
			auth.BadRequest(w, r, msg)
			return
		}
		in.Email = &trimmed
	}
	if in.Role != nil && *in.Role != store.RoleUser && *in.Role != store.RoleRootAdmin {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	user, err := h.PS.UpdateUser(r.Context(), id, store.UserPatch{
		Email:    in.Email,
		Role:     in.Role,
		IsActive: in.IsActive,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			auth.Conflict(w, r, i18n.T("user.errors.emailTaken"))
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	// Deactivation ends existing sessions immediately.
	if in.IsActive != nil && !*in.IsActive {
		if err := h.PS.RevokeAllUserSessions(r.Context(), user.ID); err != nil {
			auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
			return
		}
		if err := h.RS.DeleteAllUserSessions(r.Context(), user.ID); err != nil {
			slog.Warn("failed to evict sessions from cache", "user_id", user.ID, "error", err)
		}
	}

	auth.OK(w, r, auth.PublicView(user))
}

// Delete handles DELETE /users/{id} -- soft delete plus session revocation.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	if err := h.PS.SoftDeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	if err := h.PS.RevokeAllUserSessions(r.Context(), id); err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	if err := h.RS.DeleteAllUserSessions(r.Context(), id); err != nil {
		slog.Warn("failed to evict sessions from cache", "user_id", id, "error", err)
	}

	auth.OK(w, r, true)
}

// ResendActivationEmail handles POST /users/{id}/resend-activation-email.
// Issues a fresh activation temp key for an account still waiting on its
// first password.
func (h *Handler) ResendActivationEmail(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	user, err := h.PS.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.NotFound(w, r, i18n.T("user.errors.notFound"))
			return
		}
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}
	if user.IsActive {
		auth.BadRequest(w, r, i18n.T("common.errors.badRequest"))
		return
	}

	if err := h.AC.SendActivationEmail(r.Context(), user); err != nil {
		auth.InternalServerError(w, r, i18n.T("common.errors.internalServerError"), err)
		return
	}

	auth.Created(w, r, true)
}
