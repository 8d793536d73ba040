// cookies.go

// Token cookie names, attribute policy, and extraction.
package auth

import (
	"net/http"
	"time"
)

const (
	// AccessTokenCookie carries the signed JWT.
	AccessTokenCookie = "timelapse_access_token"
	// RefreshTokenCookie carries the opaque refresh session key.
	RefreshTokenCookie = "timelapse_refresh_token"
)

// CookiePolicy controls the attributes applied to both token cookies.
// Dev mode relaxes HttpOnly/Secure so browser devtools and plain-HTTP
// frontends can read them; production locks everything down.
type CookiePolicy struct {
	Dev bool
}

func (p CookiePolicy) apply(c *http.Cookie) {
	c.Path = "/"
	if p.Dev {
		c.HttpOnly = false
		c.Secure = false
		c.SameSite = http.SameSiteLaxMode
		return
	}
	c.HttpOnly = true
	c.Secure = true
	c.SameSite = http.SameSiteStrictMode
}

// SetAccessCookie writes the access token cookie with maxAge lifetime.
func (p CookiePolicy) SetAccessCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:   AccessTokenCookie,
		Value:  token,
		MaxAge: int(maxAge.Seconds()),
	}
	p.apply(c)
	http.SetCookie(w, c)
}

// SetRefreshCookie writes the refresh session key cookie with maxAge lifetime.
func (p CookiePolicy) SetRefreshCookie(w http.ResponseWriter, key string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:   RefreshTokenCookie,
		Value:  key,
		MaxAge: int(maxAge.Seconds()),
	}
	p.apply(c)
	http.SetCookie(w, c)
}

// ClearTokenCookies overwrites both cookies with MaxAge=-1 to trigger
// browser deletion.
func (p CookiePolicy) ClearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := &http.Cookie{Name: name, Value: "", MaxAge: -1}
		p.apply(c)
		http.SetCookie(w, c)
	}
}

// requestTokens holds the raw credentials extracted from an incoming request.
// Either field may be empty.
type requestTokens struct {
	access  string
	refresh string
}

// extractTokens pulls the access and refresh tokens out of the request
// cookies. Absent cookies leave the corresponding field empty.
func extractTokens(r *http.Request) requestTokens {
	var t requestTokens
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		t.access = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		t.refresh = c.Value
	}
	return t
}
