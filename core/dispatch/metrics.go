package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	claimConflicts  prometheus.Counter
	claimsExhausted prometheus.Counter
	createLatency   *prometheus.HistogramVec
	eventsPublished *prometheus.CounterVec
)

func newCollectors() (prometheus.Counter, prometheus.Counter, *prometheus.HistogramVec, *prometheus.CounterVec) {
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_claim_conflicts_total",
		Help: "Claims lost to a concurrent alert",
	})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_claim_retries_exhausted_total",
		Help: "Alerts rejected after using every claim attempt",
	})
	lat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_create_alert_seconds",
		Help:    "Latency of CreateAlert by outcome",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"outcome"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_published_total",
		Help: "Alert events handed to the notifier",
	}, []string{"type"})
	return conflicts, exhausted, lat, published
}

func init() {
	claimConflicts, claimsExhausted, createLatency, eventsPublished = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(claimConflicts, claimsExhausted, createLatency, eventsPublished)
}

// ResetMetrics reinitializes collectors for tests and registers them on
// reg when it is not nil.
func ResetMetrics(reg prometheus.Registerer) {
	claimConflicts, claimsExhausted, createLatency, eventsPublished = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
