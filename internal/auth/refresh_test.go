// refresh_test.go

// Tests for the same-response token renewal chain:
// RefreshTokens -> RequireAuth -> handler.
package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wind198/timelapse-server/internal/store"
	"github.com/wind198/timelapse-server/internal/token"
)

// flakyCodec delegates verification but fails every Sign call, simulating a
// mint failure inside the response finalizer.
type flakyCodec struct {
	inner TokenCodec
}

func (f *flakyCodec) Sign(token.Payload, time.Duration) (string, error) {
	return "", errors.New("sign failure")
}

func (f *flakyCodec) Verify(raw string) (*token.Payload, error) {
	return f.inner.Verify(raw)
}

// okHandler responds with the given status.
func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"data":true}`))
	})
}

func refreshChain(f *handlerFixture, next http.Handler) http.Handler {
	return f.h.RefreshTokens(f.h.RequireAuth(next))
}

func TestRefreshTokens(t *testing.T) {
	t.Run("expired access with usable session gets a new access cookie", func(t *testing.T) {
		u := activeUser("renew@example.com")
		f := newFixture(u)
		key := f.seedSession(t, u)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		addTokenCookies(r, f.signedAccess(t, u, -time.Minute, nil), key.String())

		refreshChain(f, okHandler(http.StatusOK)).ServeHTTP(w, r)

		assertStatus(t, w, http.StatusOK)
		c := responseCookie(w, AccessTokenCookie)
		if c == nil {
			t.Fatal("expected a fresh access token cookie")
		}
		got, err := f.h.TC.Verify(c.Value)
		if err != nil {
			t.Fatalf("verifying renewed token: %v", err)
		}
		if got.ID != u.ID || got.Identifier != u.Email {
			t.Errorf("renewed payload: got %+v, want user %s", got, u.ID)
		}
		if got.TempKey != nil {
			t.Error("renewed token must not carry temp key data")
		}
	})

	t.Run("fresh access token leaves cookies untouched", func(t *testing.T) {
		u := activeUser("fresh@example.com")
		f := newFixture(u)
		key := f.seedSession(t, u)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		addTokenCookies(r, f.signedAccess(t, u, time.Minute, nil), key.String())

		refreshChain(f, okHandler(http.StatusOK)).ServeHTTP(w, r)

		assertStatus(t, w, http.StatusOK)
		if responseCookie(w, AccessTokenCookie) != nil {
			t.Error("no cookie should be set when the access token is still valid")
		}
	})

	t.Run("refresh key is not rotated and stays redeemable", func(t *testing.T) {
		u := activeUser("replay@example.com")
		f := newFixture(u)
		key := f.seedSession(t, u)
		expired := f.signedAccess(t, u, -time.Minute, nil)

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			addTokenCookies(r, expired, key.String())

			refreshChain(f, okHandler(http.StatusOK)).ServeHTTP(w, r)

			assertStatus(t, w, http.StatusOK)
			if responseCookie(w, RefreshTokenCookie) != nil {
				t.Error("refresh cookie must not be rotated")
			}
			if responseCookie(w, AccessTokenCookie) == nil {
				t.Errorf("request %d: expected a renewed access cookie", i+1)
			}
		}
	})

	t.Run("non-2xx response gets no new cookie", func(t *testing.T) {
		u := activeUser("failed-req@example.com")
		f := newFixture(u)
		key := f.seedSession(t, u)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		addTokenCookies(r, f.signedAccess(t, u, -time.Minute, nil), key.String())

		refreshChain(f, okHandler(http.StatusNotFound)).ServeHTTP(w, r)

		assertStatus(t, w, http.StatusNotFound)
		if responseCookie(w, AccessTokenCookie) != nil {
			t.Error("failed responses must not attach a renewed token")
		}
	})

	t.Run("mint failure is swallowed and the response still succeeds", func(t *testing.T) {
		u := activeUser("mint-fail@example.com")
		f := newFixture(u)
		key := f.seedSession(t, u)
		expired := f.signedAccess(t, u, -time.Minute, nil)
		f.h.TC = &flakyCodec{inner: token.NewCodec(testSecret)}

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		addTokenCookies(r, expired, key.String())

		refreshChain(f, okHandler(http.StatusOK)).ServeHTTP(w, r)

		assertStatus(t, w, http.StatusOK)
		if responseCookie(w, AccessTokenCookie) != nil {
			t.Error("no cookie should be set when minting fails")
		}
	})

	t.Run("handler writing body without explicit status still renews", func(t *testing.T) {
		u := activeUser("implicit@example.com")
		f := newFixture(u)
		key := f.seedSession(t, u)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		addTokenCookies(r, f.signedAccess(t, u, -time.Minute, nil), key.String())

		implicit := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":true}`))
		})
		refreshChain(f, implicit).ServeHTTP(w, r)

		assertStatus(t, w, http.StatusOK)
		if responseCookie(w, AccessTokenCookie) == nil {
			t.Error("implicit 200 should still attach the renewed token")
		}
	})

	t.Run("renewed session user sees consistent role in new token", func(t *testing.T) {
		u := activeUser("admin-renew@example.com")
		u.Role = store.RoleRootAdmin
		f := newFixture(u)
		key := f.seedSession(t, u)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		addTokenCookies(r, f.signedAccess(t, u, -time.Minute, nil), key.String())

		refreshChain(f, okHandler(http.StatusOK)).ServeHTTP(w, r)

		c := responseCookie(w, AccessTokenCookie)
		if c == nil {
			t.Fatal("expected a renewed access cookie")
		}
		got, err := f.h.TC.Verify(c.Value)
		if err != nil {
			t.Fatalf("verifying renewed token: %v", err)
		}
		if got.Role != string(store.RoleRootAdmin) {
			t.Errorf("role: got %q, want %q", got.Role, store.RoleRootAdmin)
		}
	})
}
