package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for outbound verification calls.
// One instance is shared by both resilience wrappers; the verifier label
// distinguishes identity from residence.
type Metrics struct {
	Attempts     *prometheus.CounterVec
	Exhausted    *prometheus.CounterVec
	CircuitState *prometheus.GaugeVec
	CallDuration *prometheus.HistogramVec
}

// New creates and registers all verification metrics.
func New() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_verification_attempts_total",
			Help: "Outbound verification call attempts by verifier and outcome",
		}, []string{"verifier", "outcome"}),
		Exhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_verification_exhausted_total",
			Help: "Verification calls abandoned after the retry budget or an open circuit",
		}, []string{"verifier", "reason"}),
		CircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "onboarding_verification_circuit_state",
			Help: "Circuit breaker state per verifier (0=closed, 1=open, 2=half_open)",
		}, []string{"verifier"}),
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboarding_verification_call_duration_seconds",
			Help:    "Latency of individual outbound verification calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"verifier"}),
	}
}

// RecordAttempt counts one call attempt with its classified outcome.
func (m *Metrics) RecordAttempt(verifier, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(verifier, outcome).Inc()
	m.CallDuration.WithLabelValues(verifier).Observe(seconds)
}

// RecordExhausted counts one abandoned verification.
func (m *Metrics) RecordExhausted(verifier, reason string) {
	if m == nil {
		return
	}
	m.Exhausted.WithLabelValues(verifier, reason).Inc()
}

// SetCircuitState publishes the breaker state for dashboards.
func (m *Metrics) SetCircuitState(verifier string, state float64) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(verifier).Set(state)
}
