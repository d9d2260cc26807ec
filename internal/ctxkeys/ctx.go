package ctxkeys

import (
	"context"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/model"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	PrincipalKey contextKey = "principal"
	ContextIDKey contextKey = "context_id"
	ConfigKey    contextKey = "config"
)

func Principal(ctx context.Context) *model.Principal {
	principal, _ := ctx.Value(PrincipalKey).(*model.Principal)
	return principal
}

func WithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// ContextID is the id of the browsing context the request came from.
func ContextID(ctx context.Context) string {
	id, _ := ctx.Value(ContextIDKey).(string)
	return id
}

func WithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextIDKey, id)
}

func Config(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(ConfigKey).(*config.Config)
	return cfg
}

func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, ConfigKey, cfg)
}
