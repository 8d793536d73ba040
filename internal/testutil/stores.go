// stores.go
//
// Shared mock implementations of the store-facing interfaces consumed by the
// auth and users packages. Imported by test files across packages to avoid
// duplicate mock definitions.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wind198/timelapse-server/internal/store"
)

// MockStore implements the auth.Store and users.Store interfaces for tests.
//
// Stateful: Users, Sessions, and TempKeys are maps, like a real store.
// Use the *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr    error
	GetUserErr       error
	UpdateUserErr    error
	CreateSessionErr error
	GetSessionErr    error
	LogoutSessionErr error
	RevokeErr        error
	CreateTempKeyErr error
	GetTempKeyErr    error
	SetTimestampsErr error

	Users    map[uuid.UUID]*store.User
	Sessions map[uuid.UUID]*store.Session
	TempKeys map[uuid.UUID]*store.TempKey

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:    make(map[uuid.UUID]*store.User),
		Sessions: make(map[uuid.UUID]*store.Session),
		TempKeys: make(map[uuid.UUID]*store.TempKey),
	}
	for _, u := range users {
		ms.Users[u.ID] = u
	}
	return ms
}

func (m *MockStore) CreateUser(_ context.Context, u *store.User) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Users {
		if existing.DeletedAt == nil && strings.EqualFold(existing.Email, u.Email) {
			return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_unique_idx"}
		}
	}
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	m.Users[u.ID] = u
	return nil
}

func (m *MockStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok || u.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *MockStore) UpdateUserEmail(_ context.Context, id uuid.UUID, email string) (*store.User, error) {
	if m.UpdateUserErr != nil {
		return nil, m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok || u.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	for _, other := range m.Users {
		if other.ID != id && other.DeletedAt == nil && strings.EqualFold(other.Email, email) {
			return nil, &pgconn.PgError{Code: "23505", ConstraintName: "users_email_unique_idx"}
		}
	}
	u.Email = email
	u.UpdatedAt = time.Now()
	return u, nil
}

func (m *MockStore) UpdateUserPassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok || u.DeletedAt != nil {
		return pgx.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) ActivateUser(_ context.Context, id uuid.UUID, passwordHash string) (*store.User, error) {
	if m.UpdateUserErr != nil {
		return nil, m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok || u.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.IsActive = true
	u.UpdatedAt = time.Now()
	return u, nil
}

func (m *MockStore) SetLastResetPasswordRequestAt(_ context.Context, id uuid.UUID, at time.Time) error {
	if m.SetTimestampsErr != nil {
		return m.SetTimestampsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		u.LastResetPasswordRequestAt = &at
	}
	return nil
}

func (m *MockStore) SetLastActivationEmailSentAt(_ context.Context, id uuid.UUID, at time.Time) error {
	if m.SetTimestampsErr != nil {
		return m.SetTimestampsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		u.LastActivationEmailSentAt = &at
	}
	return nil
}

func (m *MockStore) UpdateUser(_ context.Context, id uuid.UUID, patch store.UserPatch) (*store.User, error) {
	if m.UpdateUserErr != nil {
		return nil, m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok || u.DeletedAt != nil {
		return nil, pgx.ErrNoRows
	}
	if patch.Email != nil {
		for _, other := range m.Users {
			if other.ID != id && other.DeletedAt == nil && strings.EqualFold(other.Email, *patch.Email) {
				return nil, &pgconn.PgError{Code: "23505", ConstraintName: "users_email_unique_idx"}
			}
		}
		u.Email = *patch.Email
	}
	if patch.Role != nil {
		u.Role = *patch.Role
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	u.UpdatedAt = time.Now()
	return u, nil
}

func (m *MockStore) SoftDeleteUser(_ context.Context, id uuid.UUID) error {
	if m.UpdateUserErr != nil {
		return m.UpdateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok || u.DeletedAt != nil {
		return pgx.ErrNoRows
	}
	now := time.Now()
	u.DeletedAt = &now
	return nil
}

func (m *MockStore) ListUsers(_ context.Context, params store.ListUsersParams) ([]store.User, int64, error) {
	if m.GetUserErr != nil {
		return nil, 0, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.User
	for _, u := range m.Users {
		if u.DeletedAt != nil {
			continue
		}
		if params.Email != "" && !strings.Contains(strings.ToLower(u.Email), strings.ToLower(params.Email)) {
			continue
		}
		out = append(out, *u)
	}
	// No pagination slicing here; tests seed small sets.
	return out, int64(len(out)), nil
}

func (m *MockStore) CreateSession(_ context.Context, key, userID uuid.UUID, expiresAt time.Time) error {
	if m.CreateSessionErr != nil {
		return m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[key] = &store.Session{
		Key:       key,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *MockStore) GetSessionByKey(_ context.Context, key uuid.UUID) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (m *MockStore) LogoutSession(_ context.Context, key uuid.UUID) error {
	if m.LogoutSessionErr != nil {
		return m.LogoutSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.Sessions[key]; ok && s.LoggedOutAt == nil {
		now := time.Now()
		s.LoggedOutAt = &now
	}
	return nil
}

func (m *MockStore) RevokeAllUserSessions(_ context.Context, userID uuid.UUID) error {
	if m.RevokeErr != nil {
		return m.RevokeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.Sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *MockStore) CreateTempKey(_ context.Context, tk *store.TempKey) error {
	if m.CreateTempKeyErr != nil {
		return m.CreateTempKeyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tk.CreatedAt = time.Now()
	m.TempKeys[tk.ID] = tk
	return nil
}

func (m *MockStore) GetTempKeyByID(_ context.Context, id uuid.UUID) (*store.TempKey, error) {
	if m.GetTempKeyErr != nil {
		return nil, m.GetTempKeyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tk, ok := m.TempKeys[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return tk, nil
}

// MockSessionCache implements the SessionCache interfaces in memory.
type MockSessionCache struct {
	GetErr    error
	SetErr    error
	DeleteErr error

	Sessions map[uuid.UUID]store.CachedSession

	mu sync.Mutex
}

func NewMockSessionCache() *MockSessionCache {
	return &MockSessionCache{Sessions: make(map[uuid.UUID]store.CachedSession)}
}

func (m *MockSessionCache) GetSession(_ context.Context, key uuid.UUID) (*store.CachedSession, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[key]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return &s, nil
}

func (m *MockSessionCache) SetSession(_ context.Context, key uuid.UUID, s store.CachedSession, _ int) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[key] = s
	return nil
}

func (m *MockSessionCache) DeleteSession(_ context.Context, key uuid.UUID, _ uuid.UUID) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, key)
	return nil
}

func (m *MockSessionCache) DeleteAllUserSessions(_ context.Context, userID uuid.UUID) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, k)
		}
	}
	return nil
}

// SentEmail records one Mailer call.
type SentEmail struct {
	Kind      string // "activation" or "reset"
	ToEmail   string
	TempKeyID string
}

// MockMailer implements mail.Mailer and records every send.
type MockMailer struct {
	Err  error
	Sent []SentEmail

	mu sync.Mutex
}

func (m *MockMailer) SendActivationEmail(_ context.Context, toEmail, tempKeyID string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{Kind: "activation", ToEmail: toEmail, TempKeyID: tempKeyID})
	return nil
}

func (m *MockMailer) SendResetPasswordEmail(_ context.Context, toEmail, tempKeyID string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{Kind: "reset", ToEmail: toEmail, TempKeyID: tempKeyID})
	return nil
}

// MockRateLimiter implements auth.RateLimiter; returns Err for every call.
type MockRateLimiter struct {
	Err  error
	Keys []string

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	return m.Err
}
