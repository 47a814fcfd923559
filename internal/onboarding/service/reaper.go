package service

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically releases stale in_progress idempotency claims left
// behind by crashed processes. Run it as a background worker in every
// instance; ReapStale is safe to run concurrently.
type Reaper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper constructs a reaper ticking at the given interval.
func NewReaper(service *Service, interval time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{service: service, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled. Reap errors are logged and retried on
// the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.service.ReapStale(ctx); err != nil && r.logger != nil {
				r.logger.ErrorContext(ctx, "reaper pass failed", "error", err)
			}
		}
	}
}
