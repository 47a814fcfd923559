// Package resilience wraps a verification client with bounded
// retry-with-backoff and a circuit breaker. It owns no business logic:
// retry decisions come from the tagged outcome on each result.
package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"onboarding-gateway/internal/platform/config"
	"onboarding-gateway/internal/verification"
	vmetrics "onboarding-gateway/internal/verification/metrics"
	dErrors "onboarding-gateway/pkg/domain-errors"
	"onboarding-gateway/pkg/platform/circuit"
)

// Wrapper guards one outbound call type. Instantiate one per verifier so
// each partner gets its own breaker and retry budget.
type Wrapper[T verification.Classified] struct {
	name    string
	cfg     config.ResilienceConfig
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *vmetrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Wrapper.
type Option[T verification.Classified] func(*Wrapper[T])

// WithLogger sets a structured logger for retry and breaker events.
func WithLogger[T verification.Classified](logger *slog.Logger) Option[T] {
	return func(w *Wrapper[T]) { w.logger = logger }
}

// WithMetrics sets the verification metrics collector.
func WithMetrics[T verification.Classified](m *vmetrics.Metrics) Option[T] {
	return func(w *Wrapper[T]) { w.metrics = m }
}

// WithBreaker injects a breaker, overriding the one built from config.
func WithBreaker[T verification.Classified](b *circuit.Breaker) Option[T] {
	return func(w *Wrapper[T]) {
		if b != nil {
			w.breaker = b
		}
	}
}

// WithSleep replaces the backoff sleeper; tests use this to avoid real
// delays.
func WithSleep[T verification.Classified](sleep func(ctx context.Context, d time.Duration) error) Option[T] {
	return func(w *Wrapper[T]) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// New constructs a Wrapper with its own circuit breaker built from cfg.
// MaxAttempts is clamped to at least one so a misconfigured budget can
// never report unavailability without a single outbound call.
func New[T verification.Classified](name string, cfg config.ResilienceConfig, opts ...Option[T]) *Wrapper[T] {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	w := &Wrapper[T]{
		name: name,
		cfg:  cfg,
		breaker: circuit.New(name,
			circuit.WithFailureRateThreshold(cfg.FailureRateThreshold),
			circuit.WithSlidingWindowSize(cfg.SlidingWindowSize),
			circuit.WithMinimumCalls(cfg.MinimumCalls),
			circuit.WithOpenDuration(cfg.OpenDuration),
		),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Do executes the call under the retry and breaker policy.
//
// Definitive outcomes (success or rejection) return immediately; both count
// as breaker successes since the partner answered. Transient outcomes are
// retried with exponential backoff and jitter up to MaxAttempts total
// attempts. An open breaker or an exhausted budget returns CodeUnavailable
// with zero further outbound calls.
func (w *Wrapper[T]) Do(ctx context.Context, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err := w.breaker.Allow(); err != nil {
			w.metrics.RecordExhausted(w.name, "circuit_open")
			w.publishBreakerState()
			return zero, dErrors.Newf(dErrors.CodeUnavailable, "%s verification rejected by open circuit", w.name)
		}

		callCtx, cancel := context.WithTimeout(ctx, w.cfg.PerCallTimeout)
		start := time.Now()
		result, err := call(callCtx)
		cancel()

		if err != nil {
			// Non-classified failure: context cancellation or a request
			// construction bug. Record and surface as-is.
			w.breaker.RecordFailure()
			w.publishBreakerState()
			return zero, err
		}

		outcome := result.Class()
		w.metrics.RecordAttempt(w.name, string(outcome), time.Since(start).Seconds())

		if outcome != verification.OutcomeTransient {
			w.breaker.RecordSuccess()
			w.publishBreakerState()
			return result, nil
		}

		w.breaker.RecordFailure()
		w.publishBreakerState()

		if w.logger != nil {
			w.logger.WarnContext(ctx, "transient verification failure",
				"verifier", w.name,
				"attempt", attempt,
				"max_attempts", w.cfg.MaxAttempts,
			)
		}

		if attempt < w.cfg.MaxAttempts {
			if err := w.sleep(ctx, w.backoff(attempt)); err != nil {
				return zero, err
			}
		}
	}

	w.metrics.RecordExhausted(w.name, "retries_exhausted")
	return zero, dErrors.Newf(dErrors.CodeUnavailable, "%s verification unavailable after %d attempts", w.name, w.cfg.MaxAttempts)
}

// backoff computes the exponential delay for the given attempt with
// half-to-full jitter, capped at MaxBackoff.
func (w *Wrapper[T]) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff << (attempt - 1)
	if d > w.cfg.MaxBackoff || d <= 0 {
		d = w.cfg.MaxBackoff
	}
	half := d / 2
	return half + rand.N(half+1)
}

func (w *Wrapper[T]) publishBreakerState() {
	w.metrics.SetCircuitState(w.name, float64(w.breaker.State()))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
