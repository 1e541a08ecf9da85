package repository

import (
	"context"

	"builder-claims/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	// Create appends a, assigning a.Seq.
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns entries matching f, newest first with ties broken by insertion order.
	List(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error)
}
