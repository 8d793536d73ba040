// helpers_test.go
//
// Shared fixtures and assertion helpers for the auth package tests.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/testutil"
	"github.com/wind198/timelapse-server/internal/token"
)

const testPassword = "correct-password-123"

// errSentinel is injected into mocks for error-path tests.
var errSentinel = errors.New("injected failure")

// testHash is computed once per test binary; Argon2id is too slow to re-run
// in every subtest.
var testHash = func() string {
	h, err := HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return h
}()

var testSecret = []byte("test-secret-please-do-not-reuse")

type handlerFixture struct {
	h  *Handler
	ms *testutil.MockStore
	mc *testutil.MockSessionCache
	ml *testutil.MockMailer
	rl *testutil.MockRateLimiter
}

func newFixture(users ...*store.User) *handlerFixture {
	ms := testutil.NewMockStore(users...)
	mc := testutil.NewMockSessionCache()
	ml := &testutil.MockMailer{}
	rl := &testutil.MockRateLimiter{}
	return &handlerFixture{
		h: &Handler{
			PS: ms,
			RS: mc,
			RL: rl,
			ML: ml,
			TC: token.NewCodec(testSecret),
			Policy: Policy{
				AccessTokenTTL:  15 * time.Minute,
				RefreshTokenTTL: 7 * 24 * time.Hour,
				ActivateKeyTTL:  24 * time.Hour,
				ResetKeyTTL:     time.Hour,
				ResetCooldown:   5 * time.Minute,
				Login:           store.RateLimit{MaxAttempts: 10, Window: 10 * time.Minute, LockoutTTL: 15 * time.Minute},
				Cookies:         CookiePolicy{Dev: true},
			},
		},
		ms: ms,
		mc: mc,
		ml: ml,
		rl: rl,
	}
}

// activeUser returns a fresh active USER-role account with the shared test
// password.
func activeUser(email string) *store.User {
	return &store.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        email,
		PasswordHash: testHash,
		Role:         store.RoleUser,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}

// signedAccess mints an access token for u with the given ttl; negative ttl
// produces an already-expired token.
func (f *handlerFixture) signedAccess(t *testing.T, u *store.User, ttl time.Duration, tk *token.TempKeyData) string {
	t.Helper()
	raw, err := f.h.TC.Sign(token.Payload{
		ID:         u.ID,
		Identifier: u.Email,
		Role:       string(u.Role),
		TempKey:    tk,
	}, ttl)
	if err != nil {
		t.Fatalf("signing access token: %v", err)
	}
	return raw
}

// seedSession inserts a usable refresh session for u into the mock store
// (not the cache) and returns its key.
func (f *handlerFixture) seedSession(t *testing.T, u *store.User) uuid.UUID {
	t.Helper()
	key := uuid.Must(uuid.NewV4())
	if err := f.ms.CreateSession(context.Background(), key, u.ID, time.Now().Add(f.h.Policy.RefreshTokenTTL)); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return key
}

func addTokenCookies(r *http.Request, access, refresh string) {
	if access != "" {
		r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: access})
	}
	if refresh != "" {
		r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: refresh})
	}
}

// responseCookie finds a Set-Cookie by name in the recorded response.
// Returns nil when the response never set it.
func responseCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	res := http.Response{Header: w.Header()}
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status: got %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

// assertErrorBody checks the error envelope's statusCode and message.
func assertErrorBody(t *testing.T, w *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assertStatus(t, w, status)
	var body struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v (body %s)", err, w.Body.String())
	}
	if body.StatusCode != status {
		t.Errorf("statusCode field: got %d, want %d", body.StatusCode, status)
	}
	if body.Message != message {
		t.Errorf("message: got %q, want %q", body.Message, message)
	}
}

// decodeData unmarshals the "data" envelope field into out.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v (body %s)", err, w.Body.String())
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		t.Fatalf("decoding data field: %v", err)
	}
}
