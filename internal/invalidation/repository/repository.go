package repository

import (
	"context"
	"time"

	"builder-claims/backend/internal/invalidation/domain"
)

// Repository stores invalidation events.
type Repository interface {
	// Create inserts e and sets e.Seq. Creating an event whose ID already exists is a no-op
	// that still sets e.Seq, so retried writes do not duplicate events.
	Create(ctx context.Context, e *domain.Event) error
	// ListSince returns up to limit events with Seq > since in ascending Seq order.
	ListSince(ctx context.Context, since int64, limit int) ([]*domain.Event, error)
	// DeleteBefore removes events created before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
