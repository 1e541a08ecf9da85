package domain

import "time"

// PageVisit is one page viewed during a session.
type PageVisit struct {
	URL string    `json:"url"`
	At  time.Time `json:"at"`
}

// Session is an authenticated admin or builder session. EndedAt and Duration are set once, at close.
type Session struct {
	ID         string
	User       string
	StartedAt  time.Time
	EndedAt    *time.Time
	PageVisits []PageVisit
	Duration   *time.Duration
}

// Open reports whether the session has not been closed.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}
