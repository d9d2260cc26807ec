package routes

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/templui/tracker/internal/app"
	"github.com/templui/tracker/internal/handler"
	"github.com/templui/tracker/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	auth := handler.NewAuthHandler(app.AuthService, app.Cfg)
	sessions := handler.NewSessionHandler(app.Registry, app.Clock)
	records := handler.NewRecordHandler(app.Registry, app.AttachmentService, app.CategoryService, app.Parser, app.Clock)
	categories := handler.NewCategoryHandler(app.CategoryService)
	stats := handler.NewStatsHandler(app.Registry, app.CategoryService, app.Clock)

	checks := map[string]handler.Check{"database": app.DB.PingContext}
	if app.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() }
	}
	health := handler.NewHealthHandler(checks)

	requireAuth := middleware.RequireAuth(app.Registry)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /healthz", health.Health)
	if app.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{}))
	}

	// Auth - Authentication flow (rate limited)
	rateLimiter := middleware.RateLimitAuth(middleware.NewRateLimiter(app.Cfg.AuthRateLimit, app.Cfg.AuthRateBurst))

	// OAuth
	mux.HandleFunc("GET /auth/google", rateLimiter(auth.GoogleAuth))
	mux.HandleFunc("GET /auth/google/callback", rateLimiter(auth.GoogleCallback))
	mux.HandleFunc("GET /auth/github", rateLimiter(auth.GitHubAuth))
	mux.HandleFunc("GET /auth/github/callback", rateLimiter(auth.GitHubCallback))

	// Auth Actions
	mux.HandleFunc("POST /auth/signup", rateLimiter(auth.SignUp))
	mux.HandleFunc("POST /auth/password", rateLimiter(auth.PasswordSignIn))
	mux.HandleFunc("POST /auth/forgot-password", rateLimiter(auth.ForgotPassword))
	mux.HandleFunc("POST /auth/reset-password/{token}", rateLimiter(auth.ResetPassword))
	mux.HandleFunc("POST /auth/logout", auth.Logout)

	// Banner of a session that ended while the tab was away
	mux.HandleFunc("GET /session/notice", sessions.Notice)

	// ============================================================================
	// PROTECTED ROUTES (/app/*)
	// ============================================================================

	// Session
	mux.HandleFunc("GET /app/session", requireAuth(sessions.Show))
	mux.HandleFunc("POST /app/session/activity", requireAuth(sessions.Activity))

	// Account
	mux.HandleFunc("POST /app/account/password", requireAuth(rateLimiter(auth.ChangePassword)))

	// Records
	mux.HandleFunc("GET /app/records", requireAuth(records.List))
	mux.HandleFunc("POST /app/records", requireAuth(records.Create))
	mux.HandleFunc("GET /app/records/stream", requireAuth(records.Stream))
	mux.HandleFunc("GET /app/records/export", requireAuth(records.Export))
	mux.HandleFunc("POST /app/records/bulk", requireAuth(records.Bulk))
	mux.HandleFunc("POST /app/records/import", requireAuth(records.Import))
	mux.HandleFunc("POST /app/records/migrate", requireAuth(records.Migrate))
	mux.HandleFunc("POST /app/records/from-template", requireAuth(records.FromTemplate))
	mux.HandleFunc("GET /app/records/{id}", requireAuth(records.Get))
	mux.HandleFunc("PATCH /app/records/{id}", requireAuth(records.Patch))
	mux.HandleFunc("DELETE /app/records/{id}", requireAuth(records.Delete))
	mux.HandleFunc("GET /app/records/{id}/preview", requireAuth(records.Preview))
	mux.HandleFunc("POST /app/records/{id}/attachments", requireAuth(records.Attach))
	mux.HandleFunc("POST /app/records/{id}/subtasks", requireAuth(records.AddSubtask))
	mux.HandleFunc("POST /app/records/{id}/subtasks/{subtask}/toggle", requireAuth(records.ToggleSubtask))
	mux.HandleFunc("POST /app/records/{id}/comments", requireAuth(records.AddComment))

	// Categories
	mux.HandleFunc("GET /app/categories", requireAuth(categories.List))
	mux.HandleFunc("POST /app/categories", requireAuth(categories.Create))
	mux.HandleFunc("GET /app/categories/recommend", requireAuth(categories.Recommend))
	mux.HandleFunc("PATCH /app/categories/{id}", requireAuth(categories.Patch))
	mux.HandleFunc("DELETE /app/categories/{id}", requireAuth(categories.Delete))
	mux.HandleFunc("POST /app/categories/{id}/templates", requireAuth(categories.AddTemplate))

	// Stats
	mux.HandleFunc("GET /app/stats", requireAuth(stats.Stats))
	mux.HandleFunc("GET /app/sync", requireAuth(stats.Sync))

	// Global middleware - executed in order (top to bottom)
	middlewares := []func(http.Handler) http.Handler{
		middleware.Config(app.Cfg), // Config must be first (cookie flags depend on APP_ENV)
		middleware.BrowsingContext, // Context id before auth: tokens are bound to it
		middleware.AuthMiddleware(app.AuthService),
		middleware.RequestLogging, // After auth so lines carry context and principal
		middleware.CSRFProtection, // CSRF protection for all state-changing requests
		middleware.Activity(app.Registry, app.Clock),
	}
	if app.Metrics != nil {
		middlewares = append([]func(http.Handler) http.Handler{
			middleware.Instrument(middleware.NewHTTPMetrics(app.Metrics)),
		}, middlewares...)
	}

	return middleware.Chain(mux, middlewares...)
}
