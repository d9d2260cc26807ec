package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/db"
	"github.com/templui/tracker/internal/docstore"
	"github.com/templui/tracker/internal/journal"
	"github.com/templui/tracker/internal/localstore"
	"github.com/templui/tracker/internal/markdown"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
	"github.com/templui/tracker/internal/service"
	"github.com/templui/tracker/internal/session"
	"github.com/templui/tracker/internal/storage"
	"github.com/templui/tracker/internal/workspace"
)

type App struct {
	Cfg   *config.Config
	DB    *sqlx.DB
	Redis *redis.Client // nil without REDIS_URL
	Clock clockwork.Clock

	// Metrics is nil when METRICS_ENABLED is off.
	Metrics *prometheus.Registry

	Notifier          docstore.Notifier
	Registry          *workspace.Registry
	AuthService       *service.AuthService
	EmailService      *service.EmailService
	CategoryService   *service.CategoryService
	AttachmentService *service.AttachmentService
	Parser            *markdown.Parser
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clock := clockwork.NewRealClock()

	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a := &App{Cfg: cfg, DB: database, Clock: clock}

	// Change notification: Redis pub/sub across instances, in-process otherwise
	a.Notifier = docstore.NewHub()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Notifier = docstore.NewRedisNotifier(a.Redis)
		slog.Info("redis connected, document changes fan out across instances")
	}

	// Metrics
	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		a.Metrics = prometheus.NewRegistry()
		a.Metrics.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg = a.Metrics
	}

	// Repositories
	principalRepository := repository.NewPrincipalRepository(database)
	tokenRepository := repository.NewTokenRepository(database)
	sessionRepository := repository.NewSessionRepository(database)
	categoryRepository := repository.NewCategoryRepository(database)

	// Record stores
	remote := docstore.NewSQLStore(database,
		docstore.WithRules(docstore.OwnerOnly),
		docstore.WithNotifier(a.Notifier),
		docstore.WithClock(clock),
	)
	local, err := localstore.NewFileStore(cfg.FallbackDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize fallback store: %w", err)
	}

	// Storage
	fileStorage, err := storage.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Services
	a.EmailService = service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppURL,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	a.AuthService = service.NewAuthService(
		principalRepository,
		tokenRepository,
		sessionRepository,
		a.EmailService,
		clock,
		service.AuthOptions{
			JWTSecret:           cfg.JWTSecret,
			JWTExpiry:           cfg.JWTExpiry,
			PasswordResetExpiry: cfg.TokenPasswordResetExpiry,
			IsProduction:        cfg.IsProduction(),
			Providers:           providers(cfg),
			AllowedHosts:        cfg.AllowedRedirectHosts,
		},
	)
	a.CategoryService = service.NewCategoryService(categoryRepository, clock)
	a.AttachmentService = service.NewAttachmentService(fileStorage, clock)
	a.Parser = markdown.NewParser()

	a.Registry = workspace.NewRegistry(a.AuthService, workspace.Deps{
		Remote:         remote,
		Local:          local,
		Stamps:         sessionRepository,
		Clock:          clock,
		Policy:         session.DefaultPolicy(),
		SessionMetrics: session.NewMetrics(reg),
		JournalMetrics: journal.NewMetrics(reg),
	})

	return a, nil
}

// providers lists the federated providers that have credentials.
func providers(cfg *config.Config) []string {
	var out []string
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		out = append(out, model.ProviderGoogle)
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		out = append(out, model.ProviderGitHub)
	}
	return out
}

// RunNotifier relays cross-instance changes until ctx is done. Without
// Redis there is nothing to relay.
func (a *App) RunNotifier(ctx context.Context) error {
	rn, ok := a.Notifier.(*docstore.RedisNotifier)
	if !ok {
		<-ctx.Done()
		return nil
	}
	if err := rn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	if a.Registry != nil {
		a.Registry.Close()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
