// Package ratelimit bounds how many challenges a builder can be issued in a rolling window.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether another challenge may be issued to builderID at now.
// Allow is called inside the builder's exclusive section, immediately before issuance.
type Limiter interface {
	Allow(ctx context.Context, builderID string, now time.Time) (bool, error)
}

// IssueCounter counts challenges already issued to a builder.
type IssueCounter interface {
	CountIssuedSince(ctx context.Context, builderID string, since time.Time) (int, error)
}

// StoreLimiter counts persisted challenges. Issuance history is the challenge table itself.
type StoreLimiter struct {
	counter IssueCounter
	limit   int
	window  time.Duration
}

// NewStoreLimiter allows at most limit issuances per builder within window.
func NewStoreLimiter(counter IssueCounter, limit int, window time.Duration) *StoreLimiter {
	return &StoreLimiter{counter: counter, limit: limit, window: window}
}

// Allow reports whether fewer than limit challenges were issued in (now-window, now].
func (l *StoreLimiter) Allow(ctx context.Context, builderID string, now time.Time) (bool, error) {
	n, err := l.counter.CountIssuedSince(ctx, builderID, now.Add(-l.window))
	if err != nil {
		return false, err
	}
	return n < l.limit, nil
}
