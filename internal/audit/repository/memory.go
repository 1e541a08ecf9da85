package repository

import (
	"context"
	"sort"
	"sync"

	"builder-claims/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	seq     int64
	entries []*domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit log repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create stores a copy of a and sets a.Seq.
func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	a.Seq = r.seq
	cp := *a
	r.entries = append(r.entries, &cp)
	return nil
}

// List returns copies of matching entries, newest first.
func (r *MemoryRepository) List(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	out := make([]*domain.AuditLog, 0, len(r.entries))
	for _, e := range r.entries {
		if f.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return domain.Newer(out[i], out[j]) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
