package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"builder-claims/backend/internal/otp/domain"
)

// MemoryRepository keeps challenges in process memory. Values are copied on the way in and out.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*domain.Challenge
}

// NewMemoryRepository returns an empty in-memory challenge repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Challenge)}
}

func copyChallenge(c *domain.Challenge) *domain.Challenge {
	cp := *c
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		cp.VerifiedAt = &t
	}
	if c.InvalidatedAt != nil {
		t := *c.InvalidatedAt
		cp.InvalidatedAt = &t
	}
	return &cp
}

// Create stores c. The challenge must have ID set.
func (r *MemoryRepository) Create(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[c.ID] = copyChallenge(c)
	return nil
}

// GetByID returns the challenge for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return copyChallenge(c), nil
}

// GetCurrent returns the newest non-invalidated challenge for the pair, or nil.
func (r *MemoryRepository) GetCurrent(ctx context.Context, builderID string, method domain.Method) (*domain.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var cur *domain.Challenge
	for _, c := range r.m {
		if c.BuilderID != builderID || c.Method != method || c.Invalidated() {
			continue
		}
		if cur == nil || c.GeneratedAt.After(cur.GeneratedAt) {
			cur = c
		}
	}
	if cur == nil {
		return nil, nil
	}
	return copyChallenge(cur), nil
}

// Update replaces the stored challenge with c.
func (r *MemoryRepository) Update(ctx context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[c.ID]; !ok {
		return ErrNotFound
	}
	r.m[c.ID] = copyChallenge(c)
	return nil
}

// ListSuperseded returns the invalidated, unverified challenges for the pair that expire after now.
func (r *MemoryRepository) ListSuperseded(ctx context.Context, builderID string, method domain.Method, now time.Time) ([]*domain.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Challenge
	for _, c := range r.m {
		if c.BuilderID == builderID && c.Method == method && c.Invalidated() && !c.Verified && c.ExpiresAt.After(now) {
			out = append(out, copyChallenge(c))
		}
	}
	return out, nil
}

// InvalidateActive invalidates every non-invalidated challenge for the pair.
func (r *MemoryRepository) InvalidateActive(ctx context.Context, builderID string, method domain.Method, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.m {
		if c.BuilderID == builderID && c.Method == method && !c.Invalidated() {
			c.Invalidate(at)
			n++
		}
	}
	return n, nil
}

// CountIssuedSince counts challenges generated for builderID at or after since.
func (r *MemoryRepository) CountIssuedSince(ctx context.Context, builderID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.m {
		if c.BuilderID == builderID && !c.GeneratedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// DeleteExpiredBefore removes challenges whose expiry is before cutoff.
func (r *MemoryRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.m {
		if c.ExpiresAt.Before(cutoff) {
			delete(r.m, id)
			n++
		}
	}
	return n, nil
}

// MemoryLogRepository keeps verification logs in process memory.
type MemoryLogRepository struct {
	mu   sync.RWMutex
	logs map[string]*domain.VerificationLog // by challenge id
}

// NewMemoryLogRepository returns an empty in-memory verification log repository.
func NewMemoryLogRepository() *MemoryLogRepository {
	return &MemoryLogRepository{logs: make(map[string]*domain.VerificationLog)}
}

// Create stores l. A second log for the same challenge returns ErrDuplicateLog.
func (r *MemoryLogRepository) Create(ctx context.Context, l *domain.VerificationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logs[l.ChallengeID]; ok {
		return ErrDuplicateLog
	}
	cp := *l
	r.logs[l.ChallengeID] = &cp
	return nil
}

// ListByBuilder returns the builder's logs, newest first.
func (r *MemoryLogRepository) ListByBuilder(ctx context.Context, builderID string) ([]*domain.VerificationLog, error) {
	r.mu.RLock()
	var out []*domain.VerificationLog
	for _, l := range r.logs {
		if l.BuilderID == builderID {
			cp := *l
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].VerifiedAt.After(out[j].VerifiedAt) })
	return out, nil
}
