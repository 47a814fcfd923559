package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store appends audit events. Implementations join a context-carried
// transaction when one is present so the event commits with the business
// write.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// OutboxEntry is one unpublished outbox row handed to the relay.
type OutboxEntry struct {
	ID        uuid.UUID
	EventType string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxStore is the relay's view of the outbox.
type OutboxStore interface {
	// ListUnpublished returns up to limit unpublished entries, oldest
	// first.
	ListUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error)

	// MarkPublished stamps entries as delivered so they are not relayed
	// again.
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
