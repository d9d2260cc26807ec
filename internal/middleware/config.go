package middleware

import (
	"net/http"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/ctxkeys"
)

// Config adds the sanitized configuration to the request context so
// handlers and middleware never see secrets.
func Config(cfg *config.Config) func(http.Handler) http.Handler {
	public := cfg.Sanitized()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := ctxkeys.WithConfig(r.Context(), public)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
