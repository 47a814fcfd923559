package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Publisher emits audit events with fail-closed semantics. The caller
// blocks until the write succeeds; if it fails, the calling operation must
// fail too. Emit inside the finalization transaction so the event commits
// or rolls back with the decision.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a fail-closed audit publisher. The store must be
// outbox-backed for guaranteed delivery.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes an audit event. An error means the event was
// not persisted and the business operation must not proceed.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	start := time.Now()

	if event.Action == "" {
		return fmt.Errorf("audit event requires an action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"reference_id", event.ReferenceID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted()
	return nil
}
