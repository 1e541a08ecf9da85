package repository

import (
	"context"
	"sort"
	"sync"

	"builder-claims/backend/internal/claim/domain"
)

// MemoryRepository keeps claim records in process memory.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*domain.ClaimRecord
}

// NewMemoryRepository returns an empty in-memory claim repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.ClaimRecord)}
}

// Create stores c. The record must have ID set.
func (r *MemoryRepository) Create(ctx context.Context, c *domain.ClaimRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Status == domain.StatusClaimed && r.claimedLocked(c.BuilderID) != nil {
		return ErrConflict
	}
	r.m[c.ID] = c.Clone()
	return nil
}

// GetByID returns the record for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.ClaimRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) claimedLocked(builderID string) *domain.ClaimRecord {
	for _, c := range r.m {
		if c.BuilderID == builderID && c.Status == domain.StatusClaimed {
			return c
		}
	}
	return nil
}

// GetClaimedByBuilder returns the builder's claimed record, or nil.
func (r *MemoryRepository) GetClaimedByBuilder(ctx context.Context, builderID string) (*domain.ClaimRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.claimedLocked(builderID); c != nil {
		return c.Clone(), nil
	}
	return nil, nil
}

func (r *MemoryRepository) pending(match func(*domain.ClaimRecord) bool, limit int) []*domain.ClaimRecord {
	r.mu.RLock()
	var out []*domain.ClaimRecord
	for _, c := range r.m {
		if c.Status == domain.StatusPending && match(c) {
			out = append(out, c.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListPendingByBuilder returns the builder's pending records, oldest first.
func (r *MemoryRepository) ListPendingByBuilder(ctx context.Context, builderID string) ([]*domain.ClaimRecord, error) {
	return r.pending(func(c *domain.ClaimRecord) bool { return c.BuilderID == builderID }, 0), nil
}

// ListPending returns up to limit pending records, oldest first.
func (r *MemoryRepository) ListPending(ctx context.Context, limit int) ([]*domain.ClaimRecord, error) {
	return r.pending(func(*domain.ClaimRecord) bool { return true }, limit), nil
}

// Update stores c if the stored record still has status expected and version c.Version.
func (r *MemoryRepository) Update(ctx context.Context, c *domain.ClaimRecord, expected domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[c.ID]
	if !ok || cur.Status != expected || cur.Version != c.Version {
		return ErrConflict
	}
	if c.Status == domain.StatusClaimed {
		if other := r.claimedLocked(c.BuilderID); other != nil && other.ID != c.ID {
			return ErrConflict
		}
	}
	c.Version++
	r.m[c.ID] = c.Clone()
	return nil
}
