package storage

import (
	"context"
	"time"

	"gasScope/internal/model"
)

// Storage is the durable, idempotent event store. Events are keyed by
// (tx hash, log index); writing a key again replaces the previous row.
type Storage interface {
	UpsertEvents(ctx context.Context, events []model.EnrichedEvent) error
	CountEvents(ctx context.Context) (uint64, error)
	// BlockRange returns the min and max persisted block number; ok is false when empty.
	BlockRange(ctx context.Context) (min, max uint64, ok bool, err error)
	// DateRange returns the min and max event date; ok is false when empty.
	DateRange(ctx context.Context) (start, end time.Time, ok bool, err error)
	// Events returns every persisted event ordered by block number and log index.
	Events(ctx context.Context) ([]model.EnrichedEvent, error)
	Close() error
}
