package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/templui/tracker/internal/ctxkeys"
)

const (
	ContextCookieName = "tracker_context"
	contextCookieAge  = 86400 * 365
)

// BrowsingContext gives every browser a stable context id. Sessions,
// activity and record feeds are all scoped to it.
func BrowsingContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(ContextCookieName); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}

		if id == "" {
			id = uuid.NewString()
			cfg := ctxkeys.Config(r.Context())
			http.SetCookie(w, &http.Cookie{
				Name:     ContextCookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   cfg != nil && cfg.IsProduction(),
				SameSite: http.SameSiteLaxMode,
				MaxAge:   contextCookieAge,
			})
		}

		next.ServeHTTP(w, r.WithContext(ctxkeys.WithContextID(r.Context(), id)))
	})
}
