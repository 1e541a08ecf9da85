package repository

import (
	"context"
	"maps"
	"sync"
	"time"

	"builder-claims/backend/internal/profile/domain"
)

// MemoryRepository keeps profiles in process memory.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*domain.Profile
}

// NewMemoryRepository returns a repository seeded with profiles.
func NewMemoryRepository(profiles ...*domain.Profile) *MemoryRepository {
	r := &MemoryRepository{m: make(map[string]*domain.Profile)}
	for _, p := range profiles {
		r.m[p.ID] = copyProfile(p)
	}
	return r
}

func copyProfile(p *domain.Profile) *domain.Profile {
	cp := *p
	cp.PublicFields = maps.Clone(p.PublicFields)
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}

// GetProfile returns the profile for id, or nil if it does not exist.
func (r *MemoryRepository) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return copyProfile(p), nil
}

// ApplyClaim marks the profile claimed.
func (r *MemoryRepository) ApplyClaim(ctx context.Context, id, planType string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return ErrNotFound
	}
	if p.Claimed {
		return nil
	}
	t := at
	p.Claimed = true
	p.PlanType = planType
	p.ClaimedAt = &t
	return nil
}

// Upsert creates or replaces a profile.
func (r *MemoryRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[p.ID] = copyProfile(p)
	return nil
}
