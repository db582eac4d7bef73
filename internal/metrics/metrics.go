// Package metrics holds the Prometheus collectors for token pools, generations and upstream calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veo3pk/studio/internal/upstream"
)

// Domain groups the business collectors. A nil *Domain is a no-op.
type Domain struct {
	tokenAcquire     *prometheus.CounterVec
	tokenDeactivated *prometheus.CounterVec
	poolEligible     *prometheus.GaugeVec
	poolActive       *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	upstreamCalls    *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	quotaDecisions   *prometheus.CounterVec
	batchItems       *prometheus.CounterVec
}

// NewDomain registers the collectors on reg (prometheus.DefaultRegisterer when nil).
func NewDomain(reg prometheus.Registerer, namespace string) *Domain {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "veo3"
	}
	f := promauto.With(reg)
	return &Domain{
		tokenAcquire: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "token_pool", Name: "acquire_total",
			Help: "Token acquisitions by pool and outcome.",
		}, []string{"pool", "outcome"}),
		tokenDeactivated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "token_pool", Name: "deactivated_total",
			Help: "Tokens deactivated after reaching the error threshold.",
		}, []string{"pool"}),
		poolEligible: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "token_pool", Name: "eligible",
			Help: "Tokens currently eligible for selection.",
		}, []string{"pool"}),
		poolActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "token_pool", Name: "active",
			Help: "Tokens marked active.",
		}, []string{"pool"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "generation", Name: "transitions_total",
			Help: "Generation status transitions.",
		}, []string{"kind", "from", "to"}),
		upstreamCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "requests_total",
			Help: "Upstream API requests by api and result category.",
		}, []string{"api", "category"}),
		upstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "upstream", Name: "request_duration_seconds",
			Help:    "Upstream API latency.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"api"}),
		quotaDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quota", Name: "decisions_total",
			Help: "Quota checks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		batchItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "batch", Name: "items_total",
			Help: "Batch items by kind and terminal status.",
		}, []string{"kind", "status"}),
	}
}

func (d *Domain) TokenAcquired(pool, outcome string) {
	if d == nil {
		return
	}
	d.tokenAcquire.WithLabelValues(pool, outcome).Inc()
}

func (d *Domain) TokenDeactivated(pool string) {
	if d == nil {
		return
	}
	d.tokenDeactivated.WithLabelValues(pool).Inc()
}

func (d *Domain) SetPoolGauge(pool string, active, eligible int64) {
	if d == nil {
		return
	}
	d.poolActive.WithLabelValues(pool).Set(float64(active))
	d.poolEligible.WithLabelValues(pool).Set(float64(eligible))
}

func (d *Domain) Transition(kind, from, to string) {
	if d == nil {
		return
	}
	d.transitions.WithLabelValues(kind, from, to).Inc()
}

func (d *Domain) QuotaDecision(kind string, allowed bool) {
	if d == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	d.quotaDecisions.WithLabelValues(kind, outcome).Inc()
}

func (d *Domain) BatchItem(kind, status string) {
	if d == nil {
		return
	}
	d.batchItems.WithLabelValues(kind, status).Inc()
}

// UpstreamObserver records upstream calls.
func (d *Domain) UpstreamObserver() upstream.Observer {
	return func(api string, category upstream.Category, elapsed time.Duration) {
		if d == nil {
			return
		}
		d.upstreamCalls.WithLabelValues(api, string(category)).Inc()
		d.upstreamLatency.WithLabelValues(api).Observe(elapsed.Seconds())
	}
}
