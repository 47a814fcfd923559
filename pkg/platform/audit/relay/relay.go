// Package relay drains the audit outbox into Kafka. It runs as a
// background worker next to the HTTP server; at-least-once delivery is
// acceptable because events carry their outbox id for downstream
// deduplication.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "onboarding-gateway/pkg/platform/audit"
)

// Producer is the kgo.Client surface the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the outbox and publishes undelivered entries.
type Relay struct {
	outbox    audit.OutboxStore
	producer  Producer
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// Option configures the Relay.
type Option func(*Relay)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps entries drained per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// New creates an outbox relay.
func New(outbox audit.OutboxStore, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		outbox:    outbox,
		producer:  producer,
		topic:     topic,
		interval:  5 * time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Publish errors are logged and retried
// on the next tick rather than stopping the worker.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RelayOnce(ctx); err != nil && r.logger != nil {
				r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
			}
		}
	}
}

// RelayOnce drains one batch from the outbox.
func (r *Relay) RelayOnce(ctx context.Context) error {
	entries, err := r.outbox.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("list unpublished: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(entry.Key),
			Value: entry.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "outbox_id", Value: []byte(entry.ID.String())},
				{Key: "event_type", Value: []byte(entry.EventType)},
			},
		})
	}

	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	if err := r.outbox.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "relayed audit events", "count", len(entries))
	}
	return nil
}
