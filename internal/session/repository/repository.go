package repository

import (
	"context"
	"time"

	"builder-claims/backend/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session with its visits in order, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// AddVisit appends v when the session exists and is open, and reports whether it did.
	AddVisit(ctx context.Context, sessionID string, v domain.PageVisit) (bool, error)
	// Close sets EndedAt and Duration when the session is still open, and reports whether this call closed it.
	Close(ctx context.Context, sessionID string, endedAt time.Time, d time.Duration) (bool, error)
}
