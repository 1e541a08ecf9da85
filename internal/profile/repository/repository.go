package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/profile/domain"
)

// ErrNotFound is returned by ApplyClaim when the profile does not exist.
var ErrNotFound = errors.New("profile: not found")

// Repository is the profile store boundary used by the claim engine.
type Repository interface {
	// GetProfile returns the profile for id, or nil if it does not exist.
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	// ApplyClaim marks the profile claimed under planType. Applying the same claim twice is harmless.
	ApplyClaim(ctx context.Context, id, planType string, at time.Time) error
	// Upsert creates or replaces a profile.
	Upsert(ctx context.Context, p *domain.Profile) error
}
