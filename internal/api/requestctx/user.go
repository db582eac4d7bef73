package requestctx

import (
	"context"
	"time"
)

// Principal is the authenticated caller attached by the session guard.
type Principal struct {
	UserID    int64
	Username  string
	IsAdmin   bool
	SessionID string
	ExpiresAt time.Time
}

type contextKey string

const principalContextKey contextKey = "veo3-principal"

// I18nKey stores the negotiated language.
type I18nKey struct{}

// WithLanguage attaches the negotiated language tag.
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, I18nKey{}, lang)
}

// GetLanguage returns the request language, "en-US" when unset.
func GetLanguage(ctx context.Context) string {
	if ctx == nil {
		return "en-US"
	}
	if lang, ok := ctx.Value(I18nKey{}).(string); ok && lang != "" {
		return lang
	}
	return "en-US"
}

// WithPrincipal attaches the caller for downstream handlers.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the caller; ok is false on public routes.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok && p.UserID > 0
}
