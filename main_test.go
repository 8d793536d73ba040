// main_test.go

// Router wiring smoke tests against mock stores.
package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/wind198/timelapse-server/internal/auth"
	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/testutil"
	"github.com/wind198/timelapse-server/internal/token"
	"github.com/wind198/timelapse-server/internal/users"
)

const testPassword = "router-test-pass-1"

var testHash = func() string {
	h, err := auth.HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return h
}()

func newTestRouter(seeded ...*store.User) (http.Handler, *testutil.MockStore) {
	ms := testutil.NewMockStore(seeded...)
	mc := testutil.NewMockSessionCache()
	ah := &auth.Handler{
		PS: ms,
		RS: mc,
		RL: &testutil.MockRateLimiter{},
		ML: &testutil.MockMailer{},
		TC: token.NewCodec([]byte("router-test-secret")),
		Policy: auth.Policy{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
			ActivateKeyTTL:  24 * time.Hour,
			ResetKeyTTL:     time.Hour,
			ResetCooldown:   5 * time.Minute,
			Cookies:         auth.CookiePolicy{Dev: true},
		},
	}
	uh := &users.Handler{PS: ms, RS: mc, AC: ah}
	return buildRouter([]string{"http://localhost:3000"}, ah, uh), ms
}

func seedActive(email string, role store.Role) *store.User {
	return &store.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        email,
		PasswordHash: testHash,
		Role:         role,
		IsActive:     true,
	}
}

func TestRouter_Health(t *testing.T) {
	router, _ := newTestRouter()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body: got %s", w.Body.String())
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newTestRouter()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestRouter_ProtectedWithoutCookies(t *testing.T) {
	router, _ := newTestRouter()
	for _, target := range []string{"/auth/me", "/users", "/auth/update-password"} {
		method := http.MethodGet
		if target == "/auth/update-password" {
			method = http.MethodPost
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status got %d, want 401", target, w.Code)
		}
	}
}

// login performs a real login through the router and returns the response
// cookies for follow-up requests.
func login(t *testing.T, router http.Handler, email string) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"`+email+`","password":"`+testPassword+`"}`))
	r.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("login status: got %d (body %s)", w.Code, w.Body.String())
	}
	res := http.Response{Header: w.Header()}
	return res.Cookies()
}

func TestRouter_LoginThenMe(t *testing.T) {
	u := seedActive("flow@example.com", store.RoleUser)
	router, _ := newTestRouter(u)

	cookies := login(t, router, u.Email)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	for _, c := range cookies {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("me status: got %d (body %s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), u.Email) {
		t.Errorf("me body: got %s", w.Body.String())
	}
}

func TestRouter_UsersRequiresRootAdmin(t *testing.T) {
	u := seedActive("plain@example.com", store.RoleUser)
	admin := seedActive("boss@example.com", store.RoleRootAdmin)
	router, _ := newTestRouter(u, admin)

	t.Run("USER role gets 403", func(t *testing.T) {
		cookies := login(t, router, u.Email)
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/users", nil)
		for _, c := range cookies {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
		router.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Errorf("status: got %d, want 403", w.Code)
		}
	})

	t.Run("ROOT_ADMIN passes", func(t *testing.T) {
		cookies := login(t, router, admin.Email)
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/users", nil)
		for _, c := range cookies {
			r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
		router.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("status: got %d, want 200 (body %s)", w.Code, w.Body.String())
		}
	})
}
