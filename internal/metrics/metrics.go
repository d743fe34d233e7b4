// Package metrics declares the prometheus collectors of the oracle relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by the fetcher and the submitter.
type Metrics struct {
	FetchAttempts    prometheus.Counter
	FetchFailures    prometheus.Counter
	FetchExhausted   prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Submissions      *prometheus.CounterVec
	FinalityLatency  prometheus.Histogram
	CompletionEvents prometheus.Counter
	ActiveListeners  prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "fetch", Name: "attempts_total",
			Help: "HTTP requests issued to data sources.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "fetch", Name: "failures_total",
			Help: "Failed fetch attempts.",
		}),
		FetchExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "fetch", Name: "exhausted_total",
			Help: "Fetches that returned no data after all attempts.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "cache", Name: "hits_total",
			Help: "Payload cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "cache", Name: "misses_total",
			Help: "Payload cache misses.",
		}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "submit", Name: "submissions_total",
			Help: "Submissions by final outcome.",
		}, []string{"outcome"}),
		FinalityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "oracle", Subsystem: "submit", Name: "finality_seconds",
			Help:    "Time from emit to confirmed finality.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		CompletionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oracle", Subsystem: "events", Name: "completion_total",
			Help: "Completion events correlated to a submission.",
		}),
		ActiveListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oracle", Subsystem: "events", Name: "active_listeners",
			Help: "Completion event listeners currently subscribed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FetchAttempts, m.FetchFailures, m.FetchExhausted,
			m.CacheHits, m.CacheMisses,
			m.Submissions, m.FinalityLatency,
			m.CompletionEvents, m.ActiveListeners,
		)
	}
	return m
}
