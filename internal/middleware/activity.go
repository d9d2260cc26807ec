package middleware

import (
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/templui/tracker/internal/activity"
	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/workspace"
)

// Activity counts a signed-in principal's changes under /app as a click
// on the browsing context's activity bus. Reads and polling do not count.
func Activity(registry *workspace.Registry, clock clockwork.Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMutation(r.Method) && strings.HasPrefix(r.URL.Path, "/app/") && ctxkeys.Principal(r.Context()) != nil {
				if ws := registry.Get(ctxkeys.ContextID(r.Context())); ws != nil {
					ws.Bus.Dispatch(activity.Signal{Kind: activity.Click, At: clock.Now()})
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
