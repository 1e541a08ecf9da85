package repository

import (
	"context"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/claim/domain"
)

// ErrConflict is returned by Update when the stored record changed since it was read,
// or when the update would give a builder a second claimed record.
var ErrConflict = errors.New("claim: concurrent modification")

// Repository defines persistence for claim records.
type Repository interface {
	Create(ctx context.Context, c *domain.ClaimRecord) error
	// GetByID returns the record for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.ClaimRecord, error)
	// GetClaimedByBuilder returns the builder's claimed record, or nil.
	GetClaimedByBuilder(ctx context.Context, builderID string) (*domain.ClaimRecord, error)
	// ListPendingByBuilder returns the builder's pending records, oldest first.
	ListPendingByBuilder(ctx context.Context, builderID string) ([]*domain.ClaimRecord, error)
	// ListPending returns up to limit pending records across builders, oldest first. limit <= 0 means no limit.
	ListPending(ctx context.Context, limit int) ([]*domain.ClaimRecord, error)
	// Update stores c if the stored record still has status expected and version c.Version.
	// On success c.Version is incremented.
	Update(ctx context.Context, c *domain.ClaimRecord, expected domain.Status) error
}
