package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/otp/domain"
)

// Repository defines persistence for OTP challenges.
type Repository interface {
	Create(ctx context.Context, c *domain.Challenge) error
	// GetByID returns the challenge for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	// GetCurrent returns the newest non-invalidated challenge for the pair, or nil.
	GetCurrent(ctx context.Context, builderID string, method domain.Method) (*domain.Challenge, error)
	// Update persists attempts, verification and invalidation state.
	Update(ctx context.Context, c *domain.Challenge) error
	// ListSuperseded returns the invalidated, unverified challenges for the pair that expire after now.
	ListSuperseded(ctx context.Context, builderID string, method domain.Method, now time.Time) ([]*domain.Challenge, error)
	// InvalidateActive invalidates every non-invalidated challenge for the pair and returns how many changed.
	InvalidateActive(ctx context.Context, builderID string, method domain.Method, at time.Time) (int, error)
	// CountIssuedSince counts challenges generated for builderID at or after since, across methods.
	CountIssuedSince(ctx context.Context, builderID string, since time.Time) (int, error)
	// DeleteExpiredBefore removes challenges whose expiry is before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// VerificationLogRepository stores verification logs. A challenge has at most one log.
type VerificationLogRepository interface {
	Create(ctx context.Context, l *domain.VerificationLog) error
	ListByBuilder(ctx context.Context, builderID string) ([]*domain.VerificationLog, error)
}

var (
	// ErrNotFound is returned by Update when the challenge does not exist.
	ErrNotFound = errors.New("otp: challenge not found")
	// ErrDuplicateLog is returned when a verification log already exists for the challenge.
	ErrDuplicateLog = errors.New("otp: verification log already exists for challenge")
)
