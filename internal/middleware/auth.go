package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/templui/tracker/internal/ctxkeys"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/workspace"
)

// Authenticator is what the auth middleware needs from the auth service.
type Authenticator interface {
	VerifyJWT(token string) (principalID, contextID string, err error)
	CurrentPrincipal(ctx context.Context, contextID string) *model.Principal
	Restore(ctx context.Context, contextID, principalID string) (*model.Principal, error)
	ClearJWTCookie(w http.ResponseWriter)
}

// NoticeSource hands out the one-time notice left by an ended session.
type NoticeSource interface {
	TakeNotice(contextID string) *workspace.Notice
}

// AuthMiddleware resolves the auth cookie to the principal signed in to
// this browsing context. A cookie from another context, or one whose
// session has ended, is cleared.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(service.AuthCookieName)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			contextID := ctxkeys.ContextID(r.Context())
			principalID, tokenContext, err := auth.VerifyJWT(cookie.Value)
			if err != nil || tokenContext != contextID {
				auth.ClearJWTCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.CurrentPrincipal(r.Context(), contextID)
			if principal == nil || principal.ID != principalID {
				if _, err := auth.Restore(r.Context(), contextID, principalID); err != nil {
					slog.Info("auth cookie not honoured", "error", err, "context_id", contextID)
					auth.ClearJWTCookie(w)
					next.ServeHTTP(w, r)
					return
				}
				// Recovery may have expired the session on the spot.
				principal = auth.CurrentPrincipal(r.Context(), contextID)
				if principal == nil {
					auth.ClearJWTCookie(w)
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx := ctxkeys.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type unauthorizedBody struct {
	Error  string            `json:"error"`
	Code   service.AuthCode  `json:"code"`
	Notice *workspace.Notice `json:"notice,omitempty"`
}

// RequireAuth answers 401 for requests without a principal. When the
// session ended on a timeout the body carries the notice naming the cause;
// otherwise the code is plain "unauthenticated".
func RequireAuth(notices NoticeSource) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if ctxkeys.Principal(r.Context()) != nil {
				next(w, r)
				return
			}

			body := unauthorizedBody{
				Error: service.Message(service.CodeUnauthenticated),
				Code:  service.CodeUnauthenticated,
			}
			if n := notices.TakeNotice(ctxkeys.ContextID(r.Context())); n != nil {
				body.Error = n.Message
				body.Code = n.Code
				body.Notice = n
			}
			writeJSON(w, http.StatusUnauthorized, body)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
