package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the onboarding orchestrator.
type Metrics struct {
	Decisions     *prometheus.CounterVec
	Replays       prometheus.Counter
	Conflicts     *prometheus.CounterVec
	Unavailable   prometheus.Counter
	Reaped        prometheus.Counter
	InFlight      prometheus.Gauge
	CreateSeconds prometheus.Histogram
}

// New creates and registers all onboarding metrics.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_decisions_total",
			Help: "Terminal onboarding decisions by outcome",
		}, []string{"outcome"}),
		Replays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_replays_total",
			Help: "Requests answered from the idempotency store with zero external calls",
		}),
		Conflicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_conflicts_total",
			Help: "Requests refused before orchestration",
		}, []string{"kind"}),
		Unavailable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_unavailable_total",
			Help: "Attempts aborted because a verification partner was unavailable",
		}),
		Reaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_reaped_total",
			Help: "Stale in-progress claims released by the reaper",
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "onboarding_in_flight",
			Help: "Onboarding orchestrations currently executing",
		}),
		CreateSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarding_create_duration_seconds",
			Help:    "End to end latency of onboarding creation requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordReplay() {
	if m == nil {
		return
	}
	m.Replays.Inc()
}

func (m *Metrics) RecordConflict(kind string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordUnavailable() {
	if m == nil {
		return
	}
	m.Unavailable.Inc()
}

func (m *Metrics) RecordReaped(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.Reaped.Add(float64(count))
}

func (m *Metrics) TrackInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) ObserveCreateDuration(seconds float64) {
	if m == nil {
		return
	}
	m.CreateSeconds.Observe(seconds)
}
