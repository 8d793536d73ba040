// refresh.go

// Same-response token renewal. RefreshTokens wraps the response writer so
// that a request flagged by RequireAuth gets a fresh access token cookie
// attached to its own successful response, with no extra round trip.
package auth

import (
	"context"
	"net/http"
)

// RefreshTokens installs the per-request refresh state and response wrapper.
// Must run before RequireAuth in the middleware chain: cookies are headers,
// so the new token has to be attached before the handler commits a status.
func (h *Handler) RefreshTokens(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &refreshState{}
		ctx := context.WithValue(r.Context(), refreshStateKey, st)
		rw := &refreshWriter{ResponseWriter: w, h: h, r: r, st: st}
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// refreshWriter intercepts the first WriteHeader call. On a 2xx status with
// the refresh flag set it mints a new access token and attaches the cookie
// before the status goes out. Mint failures are logged and swallowed: the
// request itself succeeded and the client can retry through the normal
// expiry path.
type refreshWriter struct {
	http.ResponseWriter
	h  *Handler
	r  *http.Request
	st *refreshState

	wroteHeader bool
}

func (rw *refreshWriter) WriteHeader(status int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		if rw.st.needed && status >= 200 && status < 300 {
			access, err := rw.h.TC.Sign(rw.st.payload, rw.h.Policy.AccessTokenTTL)
			if err != nil {
				logError(rw.r, "failed to mint refreshed access token", "error", err, "user_id", rw.st.payload.ID)
			} else {
				rw.h.Policy.Cookies.SetAccessCookie(rw.ResponseWriter, access, rw.h.Policy.AccessTokenTTL)
			}
		}
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *refreshWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
