// Package metrics exposes Prometheus instruments for pipeline and session
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide instruments. Construct once at startup and
// pass by handle; tests use their own registry.
type Metrics struct {
	ExchangesProcessed prometheus.Counter
	ExchangeFailures   *prometheus.CounterVec
	SessionReconnects  prometheus.Counter
	AIResponseSeconds  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExchangesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_relay",
			Name:      "exchanges_processed_total",
			Help:      "Completed inbound-message-to-reply cycles.",
		}),
		ExchangeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_relay",
			Name:      "exchange_failures_total",
			Help:      "Failed pipeline invocations by failure kind.",
		}, []string{"kind"}),
		SessionReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_relay",
			Name:      "session_reconnects_total",
			Help:      "Transport session reconnect attempts.",
		}),
		AIResponseSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "persona_relay",
			Name:      "ai_response_seconds",
			Help:      "Latency of AI completion calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ExchangesProcessed, m.ExchangeFailures, m.SessionReconnects, m.AIResponseSeconds)
	}
	return m
}
