package notifier

import (
	"context"
	"sync"
	"time"
)

type devEntry struct {
	code      string
	expiresAt time.Time
}

// DevStore keeps plain codes by challenge id so they can be read back outside production
// (GET /dev/otp/:challengeId). It is a Notifier so it can replace or accompany real delivery.
type DevStore struct {
	mu   sync.RWMutex
	m    map[string]devEntry
	nowF func() time.Time
}

// NewDevStore returns an empty dev code store.
func NewDevStore() *DevStore {
	return &DevStore{
		m:    make(map[string]devEntry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Send records the code for d.ChallengeID until d.ExpiresAt.
func (s *DevStore) Send(ctx context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[d.ChallengeID] = devEntry{code: d.Code, expiresAt: d.ExpiresAt}
	return nil
}

// Get returns the code for challengeID if present and not expired. Expired entries are dropped.
func (s *DevStore) Get(ctx context.Context, challengeID string) (string, bool) {
	s.mu.RLock()
	e, ok := s.m[challengeID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, challengeID)
		s.mu.Unlock()
		return "", false
	}
	return e.code, true
}
