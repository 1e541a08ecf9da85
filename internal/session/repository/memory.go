package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"builder-claims/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Session)}
}

func copySession(s *domain.Session) *domain.Session {
	cp := *s
	cp.PageVisits = slices.Clone(s.PageVisits)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	if s.Duration != nil {
		d := *s.Duration
		cp.Duration = &d
	}
	return &cp
}

// Create stores s. The session must have ID set.
func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = copySession(s)
	return nil
}

// GetByID returns the session, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

// AddVisit appends v to an open session.
func (r *MemoryRepository) AddVisit(ctx context.Context, sessionID string, v domain.PageVisit) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[sessionID]
	if !ok || !s.Open() {
		return false, nil
	}
	s.PageVisits = append(s.PageVisits, v)
	return true, nil
}

// Close ends an open session.
func (r *MemoryRepository) Close(ctx context.Context, sessionID string, endedAt time.Time, d time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[sessionID]
	if !ok || !s.Open() {
		return false, nil
	}
	t := endedAt
	s.EndedAt = &t
	s.Duration = &d
	return true, nil
}
