package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/templui/tracker/internal/ctxkeys"
)

const (
	csrfCookieName = "tracker_csrf"
	csrfFormField  = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
	csrfMaxAge     = 7 * 24 * 60 * 60
)

// rand.Text yields 26 base32 characters.
const csrfTokenChars = 26

var csrfSafeMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// CSRFProtection is a double-submit check. Every response echoes the
// browsing context's token in X-CSRF-Token; state-changing requests must
// send it back in that header or in the csrf_token form field.
func CSRFProtection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := csrfToken(w, r)
		w.Header().Set(csrfHeader, token)

		if csrfSafeMethods[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		submitted := r.Header.Get(csrfHeader)
		if submitted == "" {
			submitted = r.PostFormValue(csrfFormField)
		}
		if submitted == "" || subtle.ConstantTimeCompare([]byte(token), []byte(submitted)) != 1 {
			slog.Warn("csrf token mismatch",
				"path", r.URL.Path,
				"method", r.Method,
				"ip", getClientIP(r),
				"context_id", ctxkeys.ContextID(r.Context()),
			)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "invalid CSRF token",
				"code":  "csrf-mismatch",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// csrfToken returns the cookie's token, issuing a fresh one when the cookie
// is missing or malformed.
func csrfToken(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(csrfCookieName); err == nil && len(c.Value) == csrfTokenChars {
		return c.Value
	}

	token := rand.Text()
	cfg := ctxkeys.Config(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg != nil && cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   csrfMaxAge,
	})
	return token
}
