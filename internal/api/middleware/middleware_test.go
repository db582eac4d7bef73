package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitPerClientWithSkips(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Limit:        2,
		Window:       time.Minute,
		SkipPaths:    []string{"/healthz"},
		SkipPrefixes: []string{"/media/"},
	})(okHandler)

	call := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("/api/quota", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("/api/quota", "10.0.0.1").Code)
	limited := call("/api/quota", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "error.rate_limited")

	assert.Equal(t, http.StatusOK, call("/api/quota", "10.0.0.2").Code, "buckets are per client")
	assert.Equal(t, http.StatusOK, call("/healthz", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("/media/images/a.png", "10.0.0.1").Code)
}

func TestBodyLimitOverridesByPrefix(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		for {
			_, err := r.Body.Read(buf)
			if err != nil {
				if errors.Is(err, io.EOF) {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
				}
				return
			}
		}
	})
	h := BodyLimit(BodyLimitConfig{MaxBytes: 16, Overrides: map[string]int64{"/api/video/batch-stream": 1024}})(read)

	body := strings.Repeat("x", 100)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/quota", strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/video/batch-stream", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsLabelByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(MetricsConfig{Namespace: "test", Registerer: reg})

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/api/video-history/{id}", okHandler)
	r.Get("/healthz", okHandler)

	for _, path := range []string{"/api/video-history/1", "/api/video-history/2", "/healthz"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("get", "/api/video-history/{id}", "200")))
	count, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "skipped probe paths add no series")
}

func TestMetricsMiddlewareStillFlushes(t *testing.T) {
	m := NewMetrics(MetricsConfig{Namespace: "flush", Registerer: prometheus.NewRegistry()})
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
		assert.NoError(t, http.NewResponseController(w).Flush())
	})
	rec := httptest.NewRecorder()
	m.Middleware()(stream).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/video/batch-stream", nil))
	assert.True(t, rec.Flushed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("get", "unmatched", "200")))
}

func TestStructuredLoggerUsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(StructuredLogger(LoggingConfig{Logger: logger, SkipPaths: []string{"/healthz"}}))
	r.Get("/api/video-history/{id}", okHandler)
	r.Get("/healthz", okHandler)
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/video-history/9", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "/api/video-history/{id}", first["route"])
	assert.Equal(t, "/api/video-history/9", first["path"])
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "ERROR", second["level"])
	assert.Equal(t, "request failed", second["msg"])
}

func TestAccessLevel(t *testing.T) {
	level, msg := accessLevel(http.StatusOK, 2*time.Second, time.Second, true)
	assert.Equal(t, slog.LevelInfo, level)
	assert.Equal(t, "stream closed", msg)

	level, _ = accessLevel(http.StatusOK, 2*time.Second, time.Second, false)
	assert.Equal(t, slog.LevelWarn, level)

	level, msg = accessLevel(http.StatusNotFound, 0, time.Second, false)
	assert.Equal(t, slog.LevelWarn, level)
	assert.Equal(t, "request rejected", msg)
}
