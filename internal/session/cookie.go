package session

import (
	"net/http"
	"time"
)

const (
	CookieName        = "session"
	RefreshCookieName = "refresh"

	// RefreshCookiePath keeps the refresh token off every request except
	// the session endpoints.
	RefreshCookiePath = "/session"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Path     string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
	Domain   string
}

// normalize applies safe defaults without breaking callers
func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/"
	}
	if !o.HttpOnly {
		o.HttpOnly = true
	}
	if o.SameSite == 0 || o.SameSite == http.SameSiteDefaultMode {
		o.SameSite = http.SameSiteStrictMode
	}
	return o
}

// DefaultCookieOptions are HTTP-only and same-site strict; Secure is
// dropped only for local development.
func DefaultCookieOptions(development bool) CookieOptions {
	return CookieOptions{
		Path:     "/",
		HttpOnly: true,
		Secure:   !development,
		SameSite: http.SameSiteStrictMode,
	}
}

// SetCookie issues the session cookie to the client.
func SetCookie(
	w http.ResponseWriter,
	sessionToken string,
	expiresAt time.Time,
	opts CookieOptions,
) {
	setNamed(w, CookieName, sessionToken, expiresAt, opts.normalize())
}

// SetRefreshCookie issues the refresh cookie, scoped to RefreshCookiePath.
func SetRefreshCookie(
	w http.ResponseWriter,
	refreshToken string,
	expiresAt time.Time,
	opts CookieOptions,
) {
	opts.Path = RefreshCookiePath
	setNamed(w, RefreshCookieName, refreshToken, expiresAt, opts.normalize())
}

// ClearCookies removes both cookies from the client.
func ClearCookies(
	w http.ResponseWriter,
	opts CookieOptions,
) {
	opts = opts.normalize()
	clearNamed(w, CookieName, opts)

	opts.Path = RefreshCookiePath
	clearNamed(w, RefreshCookieName, opts)
}

func setNamed(w http.ResponseWriter, name, value string, expiresAt time.Time, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  expiresAt,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

func clearNamed(w http.ResponseWriter, name string, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
