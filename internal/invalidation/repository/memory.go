package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"builder-claims/backend/internal/invalidation/domain"
)

// MemoryRepository keeps events in process memory in Seq order.
type MemoryRepository struct {
	mu     sync.RWMutex
	seq    int64
	events []*domain.Event
	byID   map[string]int64
}

// NewMemoryRepository returns an empty in-memory event repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]int64)}
}

func copyEvent(e *domain.Event) *domain.Event {
	cp := *e
	cp.AffectedPages = slices.Clone(e.AffectedPages)
	return &cp
}

// Create appends e unless an event with the same ID exists.
func (r *MemoryRepository) Create(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq, ok := r.byID[e.ID]; ok {
		e.Seq = seq
		return nil
	}
	r.seq++
	e.Seq = r.seq
	r.byID[e.ID] = e.Seq
	r.events = append(r.events, copyEvent(e))
	return nil
}

// ListSince returns up to limit events with Seq > since.
func (r *MemoryRepository) ListSince(ctx context.Context, since int64, limit int) ([]*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Event
	for _, e := range r.events {
		if e.Seq <= since {
			continue
		}
		out = append(out, copyEvent(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteBefore removes events created before cutoff.
func (r *MemoryRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	n := 0
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			delete(r.byID, e.ID)
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}
