// Package sweeper runs the periodic housekeeping of the claim engine: expiring stale claims,
// purging old challenges and pruning delivered invalidation events.
package sweeper

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/telemetry"
)

const (
	DefaultInterval  = time.Minute
	DefaultRetention = 7 * 24 * time.Hour
)

// ClaimExpirer expires pending claims whose challenge lapsed.
type ClaimExpirer interface {
	ExpireStaleClaims(ctx context.Context) (int, error)
}

// ChallengePurger deletes challenges past their purge grace.
type ChallengePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// EventPruner deletes invalidation events older than retention.
type EventPruner interface {
	Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Result counts what one sweep changed.
type Result struct {
	Expired int
	Purged  int
	Pruned  int
}

// Sweeper runs SweepOnce on a fixed interval.
type Sweeper struct {
	claims     ClaimExpirer
	challenges ChallengePurger
	events     EventPruner
	interval   time.Duration
	retention  time.Duration
	hooks      []func()

	logger  *zap.Logger
	emitter telemetry.EventEmitter
	nowF    func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option { return func(s *Sweeper) { s.interval = d } }

// WithRetention sets how long invalidation events are kept.
func WithRetention(d time.Duration) Option { return func(s *Sweeper) { s.retention = d } }

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option { return func(s *Sweeper) { s.logger = logging.OrNop(l) } }

// WithEmitter sends sweep events to e.
func WithEmitter(e telemetry.EventEmitter) Option { return func(s *Sweeper) { s.emitter = e } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.nowF = now } }

// WithHook runs f after every sweep, e.g. to drop idle rate limiter state.
func WithHook(f func()) Option { return func(s *Sweeper) { s.hooks = append(s.hooks, f) } }

// New returns a Sweeper. Any of the targets may be nil.
func New(claims ClaimExpirer, challenges ChallengePurger, events EventPruner, opts ...Option) *Sweeper {
	s := &Sweeper{
		claims:     claims,
		challenges: challenges,
		events:     events,
		interval:   DefaultInterval,
		retention:  DefaultRetention,
		logger:     zap.NewNop(),
		nowF:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.logger.Info("sweeper: started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper: stopped")
			return
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("sweeper: sweep incomplete", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs every step once. Steps are independent: a failing step does not skip the
// others, and the first error is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var (
		res      Result
		firstErr error
	)
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		s.logger.Error("sweeper: step failed", zap.String("step", step), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if s.claims != nil {
		n, err := s.claims.ExpireStaleClaims(ctx)
		res.Expired = n
		keep("expire_claims", err)
	}
	now := s.nowF()
	if s.challenges != nil {
		n, err := s.challenges.PurgeExpired(ctx, now)
		res.Purged = n
		keep("purge_challenges", err)
	}
	if s.events != nil {
		n, err := s.events.Prune(ctx, now, s.retention)
		res.Pruned = n
		keep("prune_invalidations", err)
	}
	for _, h := range s.hooks {
		h()
	}

	if res.Expired+res.Purged+res.Pruned > 0 {
		s.logger.Info("sweeper: sweep done",
			zap.Int("expired", res.Expired), zap.Int("purged", res.Purged), zap.Int("pruned", res.Pruned))
		telemetry.EmitAsync(s.emitter, ctx, telemetry.NewEvent(telemetry.EventSweepCompleted, "sweeper").
			With("expired", strconv.Itoa(res.Expired)).
			With("purged", strconv.Itoa(res.Purged)).
			With("pruned", strconv.Itoa(res.Pruned)))
	}
	return res, firstErr
}
