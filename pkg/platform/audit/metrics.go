package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks audit publisher health. Persist failures here mean failed
// business operations, so alert on them.
type Metrics struct {
	eventsEmitted   prometheus.Counter
	persistFailures prometheus.Counter
	persistDuration prometheus.Histogram
}

// NewMetrics creates and registers audit metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_audit_events_emitted_total",
			Help: "Audit events successfully written to the outbox",
		}),
		persistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_audit_persist_failures_total",
			Help: "Audit writes that failed and aborted their operation",
		}),
		persistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarding_audit_persist_duration_seconds",
			Help:    "Latency of synchronous audit writes",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) IncEventsEmitted() {
	if m == nil {
		return
	}
	m.eventsEmitted.Inc()
}

func (m *Metrics) IncPersistFailures() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.persistDuration.Observe(seconds)
}
