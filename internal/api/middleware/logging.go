package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// LoggingConfig configures the access log.
type LoggingConfig struct {
	Logger *slog.Logger
	// Requests slower than this are logged at WARN. Event streams are exempt.
	SlowThreshold time.Duration
	SkipPaths     []string
}

// StructuredLogger writes one slog record per request, keyed by the matched
// route so that /api/history/17 and /api/history/18 group together.
func StructuredLogger(cfg LoggingConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = 500 * time.Millisecond
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			reqID := chiMiddleware.GetReqID(r.Context())
			if reqID == "" {
				reqID = "unknown"
			}
			rec := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			rec.Header().Set("X-Request-ID", reqID)

			began := time.Now()
			next.ServeHTTP(rec, r)
			elapsed := time.Since(began)

			status := rec.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			attrs := []slog.Attr{
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", elapsed),
				slog.Int("bytes", rec.BytesWritten()),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if ua := r.UserAgent(); ua != "" {
				attrs = append(attrs, slog.String("user_agent", ua))
			}

			stream := strings.HasPrefix(rec.Header().Get("Content-Type"), "text/event-stream")
			level, msg := accessLevel(status, elapsed, slow, stream)
			logger.LogAttrs(r.Context(), level, msg, attrs...)
		})
	}
}

func accessLevel(status int, elapsed, slow time.Duration, stream bool) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "request failed"
	case status >= 400:
		return slog.LevelWarn, "request rejected"
	case stream:
		return slog.LevelInfo, "stream closed"
	case elapsed > slow:
		return slog.LevelWarn, "slow request"
	}
	return slog.LevelInfo, "request completed"
}
