package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/veo3pk/studio/internal/api/requestctx"
	"github.com/veo3pk/studio/internal/service"
	"github.com/veo3pk/studio/internal/support/i18n"
)

// DefaultSessionCookie is used when no cookie name is configured.
const DefaultSessionCookie = "veo3_session"

// Authenticator resolves a raw session token.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*service.Session, error)
}

// SessionGuard rejects requests without a live session. The token is read from
// the session cookie first, then from the Authorization header.
func SessionGuard(auth Authenticator, cookieName string, translator *i18n.Manager) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				writeError(w, r, translator, http.StatusServiceUnavailable, "error.internal")
				return
			}
			raw := SessionToken(r, cookieName)
			if raw == "" {
				writeError(w, r, translator, http.StatusUnauthorized, "error.unauthorized")
				return
			}
			session, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				if errors.Is(err, service.ErrUnauthorized) || errors.Is(err, service.ErrAccountDisabled) {
					writeError(w, r, translator, http.StatusUnauthorized, "error.unauthorized")
					return
				}
				writeError(w, r, translator, http.StatusInternalServerError, "error.internal")
				return
			}
			ctx := requestctx.WithPrincipal(r.Context(), requestctx.Principal{
				UserID:    session.UserID,
				Username:  session.Username,
				IsAdmin:   session.IsAdmin,
				SessionID: session.SessionID,
				ExpiresAt: session.ExpiresAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminGuard must run after SessionGuard.
func AdminGuard(translator *i18n.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := requestctx.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, translator, http.StatusUnauthorized, "error.unauthorized")
				return
			}
			if !p.IsAdmin {
				writeError(w, r, translator, http.StatusForbidden, "error.forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionToken extracts the raw session token from cookie or bearer header.
func SessionToken(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil {
		if v := strings.TrimSpace(cookie.Value); v != "" {
			return v
		}
	}
	return extractBearer(r.Header.Get("Authorization"))
}

func extractBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func writeError(w http.ResponseWriter, r *http.Request, translator *i18n.Manager, status int, key string) {
	msg := key
	if translator != nil {
		msg = translator.Translate(requestctx.GetLanguage(r.Context()), key)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": key})
}
