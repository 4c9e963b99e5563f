package helpers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	// refreshCookiePath limits the refresh token to the rotation endpoint.
	refreshCookiePath = "/api/auth"
)

// SessionCookies writes the desktop client's session pair as HttpOnly
// cookies. The access cookie is sent everywhere under /, the refresh cookie
// only to /api/auth.
type SessionCookies struct {
	Domain string
	Secure bool
}

func NewSessionCookies(domain string, secure bool) *SessionCookies {
	return &SessionCookies{Domain: domain, Secure: secure}
}

func (m *SessionCookies) SetPair(c *gin.Context, access string, aexp time.Time, refresh string, rexp time.Time) {
	c.SetSameSite(m.sameSite())
	c.SetCookie(AccessCookie, access, maxAgeFrom(aexp), "/", m.Domain, m.Secure, true)
	c.SetCookie(RefreshCookie, refresh, maxAgeFrom(rexp), refreshCookiePath, m.Domain, m.Secure, true)
}

func (m *SessionCookies) Clear(c *gin.Context) {
	c.SetSameSite(m.sameSite())
	c.SetCookie(AccessCookie, "", -1, "/", m.Domain, m.Secure, true)
	c.SetCookie(RefreshCookie, "", -1, refreshCookiePath, m.Domain, m.Secure, true)
}

// sameSite is Strict over TLS. Plain-http development keeps Lax so the
// local dev server can still hand cookies to the desktop shell.
func (m *SessionCookies) sameSite() http.SameSite {
	if m.Secure {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

func maxAgeFrom(exp time.Time) int {
	sec := int(time.Until(exp).Seconds())
	if sec < 0 {
		return 0
	}
	return sec
}
