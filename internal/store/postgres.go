// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation of input).
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPageSize bounds ListUsers when the caller passes no page size.
const DefaultPageSize = 25

// MaxPageSize is the hard cap on a single ListUsers page.
const MaxPageSize = 200

// The store used by the program to talk to Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a ready-to-use store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	err = pool.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
// Call via defer in main.go after creating the store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the database.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, email, password_hash, role, is_active,
	last_reset_password_request_at, last_activation_email_sent_at,
	deleted_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive,
		&u.LastResetPasswordRequestAt, &u.LastActivationEmailSentAt,
		&u.DeletedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user row. The caller generates the UUID v7 and
// the Argon2id hash before calling this. Returns the raw pgx error; handlers
// inspect it for unique violations (duplicate email).
func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, role, is_active)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.IsActive)
	return err
}

// GetUserByEmail fetches a live (non-deleted) user by email.
// Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND deleted_at IS NULL`,
		email))
}

// GetUserByID fetches a live (non-deleted) user by id.
// Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`,
		id))
}

// UpdateUserEmail changes a user's email and returns the updated row.
// Returns the raw pgx error on unique violation (email taken).
func (s *PostgresStore) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET email = $2, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+userColumns,
		id, email))
}

// UpdateUserPassword replaces the stored password hash.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ActivateUser sets the user's password and flips is_active on, returning
// the updated row. Used when an activation temp key is consumed.
func (s *PostgresStore) ActivateUser(ctx context.Context, id uuid.UUID, passwordHash string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET password_hash = $2, is_active = TRUE, updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+userColumns,
		id, passwordHash))
}

// SetLastResetPasswordRequestAt stamps the reset-request throttle column.
func (s *PostgresStore) SetLastResetPasswordRequestAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_reset_password_request_at = $2, updated_at = now() WHERE id = $1`,
		id, at)
	return err
}

// SetLastActivationEmailSentAt stamps the activation-email column.
func (s *PostgresStore) SetLastActivationEmailSentAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_activation_email_sent_at = $2, updated_at = now() WHERE id = $1`,
		id, at)
	return err
}

// UpdateUser applies the non-nil fields of patch and returns the updated row.
// Returns pgx.ErrNoRows when the user does not exist, and the raw pgx error
// on unique violation (email taken).
func (s *PostgresStore) UpdateUser(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error) {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}

	return scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+userColumns,
		args...))
}

// SoftDeleteUser stamps deleted_at on a live user row.
// Returns pgx.ErrNoRows when no live row matched.
func (s *PostgresStore) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND deleted_at IS NULL`,
		id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListUsers returns one page of live users, newest first, plus the total
// count for the same filter.
func (s *PostgresStore) ListUsers(ctx context.Context, params ListUsersParams) ([]User, int64, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}

	where := "deleted_at IS NULL"
	args := []any{}
	if params.Email != "" {
		args = append(args, "%"+params.Email+"%")
		where += fmt.Sprintf(" AND email ILIKE $%d", len(args))
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	return users, total, nil
}

// CreateSession inserts a new refresh session row.
func (s *PostgresStore) CreateSession(ctx context.Context, key, userID uuid.UUID, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_sessions (key, user_id, expires_at) VALUES ($1, $2, $3)`,
		key, userID, expiresAt)
	return err
}

// GetSessionByKey fetches a session row by its opaque key, regardless of
// validity -- callers check Usable so expired and logged-out sessions can be
// reported differently. Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetSessionByKey(ctx context.Context, key uuid.UUID) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx,
		`SELECT key, user_id, expires_at, logged_out_at, revoked_at, created_at
		 FROM user_sessions WHERE key = $1`,
		key).Scan(&sess.Key, &sess.UserID, &sess.ExpiresAt, &sess.LoggedOutAt, &sess.RevokedAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// LogoutSession stamps logged_out_at on the session, keeping the earliest
// stamp. Idempotent: repeating the call, or calling it for an unknown key,
// still succeeds.
func (s *PostgresStore) LogoutSession(ctx context.Context, key uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET logged_out_at = COALESCE(logged_out_at, now()) WHERE key = $1`,
		key)
	return err
}

// RevokeAllUserSessions stamps revoked_at on every live session of a user.
// Used when an admin removes the account.
func (s *PostgresStore) RevokeAllUserSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE user_sessions SET revoked_at = COALESCE(revoked_at, now()) WHERE user_id = $1`,
		userID)
	return err
}

// CleanupExpiredSessions deletes sessions expired longer than retention ago.
// Returns the number of rows removed.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_sessions WHERE expires_at < now() - $1::interval`,
		retention)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateTempKey inserts a new temp key row.
func (s *PostgresStore) CreateTempKey(ctx context.Context, tk *TempKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO temp_keys (id, type, user_id, token, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		tk.ID, tk.Type, tk.UserID, tk.Token, tk.ExpiresAt)
	return err
}

// GetTempKeyByID fetches a temp key by id, expired or not -- the handler
// distinguishes unknown (404) from expired (400).
// Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetTempKeyByID(ctx context.Context, id uuid.UUID) (*TempKey, error) {
	var tk TempKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, user_id, token, expires_at, created_at
		 FROM temp_keys WHERE id = $1`,
		id).Scan(&tk.ID, &tk.Type, &tk.UserID, &tk.Token, &tk.ExpiresAt, &tk.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &tk, nil
}

// CleanupExpiredTempKeys deletes temp keys expired longer than retention ago.
// Returns the number of rows removed.
func (s *PostgresStore) CleanupExpiredTempKeys(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM temp_keys WHERE expires_at < now() - $1::interval`,
		retention)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
