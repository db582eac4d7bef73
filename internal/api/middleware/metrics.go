// Package middleware provides HTTP middleware components.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// Namespace prefixes every series (default "veo3").
	Namespace string
	Subsystem string
	// SkipPaths are served without being counted.
	SkipPaths []string
	Buckets   []float64
	// Registerer defaults to the global prometheus registry.
	Registerer prometheus.Registerer
}

// DefaultMetricsConfig returns the default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "veo3",
		Subsystem: "http",
		SkipPaths: []string{"/health", "/healthz", "/_internal/ready", "/metrics"},
		// Generation polls and event streams run long, hence the 30s and 120s buckets.
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
	}
}

// Metrics holds the HTTP collectors. Series are labelled by method, chi route
// pattern and status code.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	responseSize     *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	skip             map[string]struct{}
}

// NewMetrics registers the HTTP collectors, filling unset fields from DefaultMetricsConfig.
func NewMetrics(cfg MetricsConfig) *Metrics {
	def := DefaultMetricsConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = def.Subsystem
	}
	if len(cfg.Buckets) == 0 {
		cfg.Buckets = def.Buckets
	}
	if cfg.SkipPaths == nil {
		cfg.SkipPaths = def.SkipPaths
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registerer)
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}
	histogram := func(name, help string, buckets []float64) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help, Buckets: buckets}
	}

	m := &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts(opts("requests_total", "Total number of HTTP requests processed.")),
			[]string{"method", "route", "code"}),
		requestDuration: factory.NewHistogramVec(
			histogram("request_duration_seconds", "Request latency in seconds.", cfg.Buckets),
			[]string{"method", "route"}),
		responseSize: factory.NewHistogramVec(
			histogram("response_size_bytes", "Response size in bytes.", prometheus.ExponentialBuckets(100, 10, 8)),
			[]string{"method", "route"}),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts(opts("requests_in_flight", "Current number of requests being served."))),
		skip: make(map[string]struct{}, len(cfg.SkipPaths)),
	}
	for _, p := range cfg.SkipPaths {
		m.skip[p] = struct{}{}
	}
	return m
}

// routeLabel keeps label cardinality bounded: /api/video-history/42 becomes
// /api/video-history/{id}. Unmatched paths collapse into one label. It is
// read after the handler ran, once chi has filled the route context.
func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Middleware wraps each request in the promhttp instrumentation chain.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	byRoute := promhttp.WithLabelFromCtx("route", routeLabel)
	return func(next http.Handler) http.Handler {
		instrumented := promhttp.InstrumentHandlerInFlight(m.requestsInFlight,
			promhttp.InstrumentHandlerCounter(m.requestsTotal,
				promhttp.InstrumentHandlerDuration(m.requestDuration,
					promhttp.InstrumentHandlerResponseSize(m.responseSize, next, byRoute),
					byRoute),
				byRoute))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := m.skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			instrumented.ServeHTTP(w, r)
		})
	}
}

// MetricsGuard requires a bearer token on the scrape endpoint.
func MetricsGuard(token string) func(http.Handler) http.Handler {
	expected := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), expected) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
