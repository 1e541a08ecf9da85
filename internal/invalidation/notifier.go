// Package invalidation records which rendered pages must be regenerated after a builder's
// public data changes. Recording is fire-and-forget for callers and at-least-once in the store.
package invalidation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/invalidation/domain"
	"builder-claims/backend/internal/invalidation/repository"
	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/telemetry"
)

const (
	defaultMaxInFlight     = 16
	defaultRetryMaxElapsed = 30 * time.Second
	defaultListLimit       = 100
	maxListLimit           = 1000
)

var errClosed = errors.New("invalidation: notifier closed")

// Publisher forwards persisted events to subscribers (e.g. a Kafka topic).
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Notifier records invalidation events asynchronously.
type Notifier struct {
	repo       repository.Repository
	publisher  Publisher
	logger     *zap.Logger
	metrics    *telemetry.Metrics
	emitter    telemetry.EventEmitter
	maxElapsed time.Duration
	nowF       func() time.Time

	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPublisher forwards every persisted event to p.
func WithPublisher(p Publisher) Option { return func(n *Notifier) { n.publisher = p } }

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option { return func(n *Notifier) { n.logger = logging.OrNop(l) } }

// WithMetrics counts recorded events.
func WithMetrics(m *telemetry.Metrics) Option { return func(n *Notifier) { n.metrics = m } }

// WithEmitter emits a domain event per recorded invalidation.
func WithEmitter(e telemetry.EventEmitter) Option { return func(n *Notifier) { n.emitter = e } }

// WithRetryMaxElapsed bounds how long a failed write is retried.
func WithRetryMaxElapsed(d time.Duration) Option { return func(n *Notifier) { n.maxElapsed = d } }

// WithMaxInFlight bounds concurrent store writes.
func WithMaxInFlight(k int) Option {
	return func(n *Notifier) {
		if k > 0 {
			n.slots = make(chan struct{}, k)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(n *Notifier) { n.nowF = now } }

// NewNotifier returns a Notifier persisting to repo.
func NewNotifier(repo repository.Repository, opts ...Option) *Notifier {
	n := &Notifier{
		repo:       repo,
		logger:     zap.NewNop(),
		maxElapsed: defaultRetryMaxElapsed,
		nowF:       func() time.Time { return time.Now().UTC() },
		slots:      make(chan struct{}, defaultMaxInFlight),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// RecordInvalidation queues an event for builderID and returns it without waiting for the store.
// Pages are kept in the given order with blanks and duplicates removed. The returned event is
// the caller's own copy; its Seq is zero since the event has not been persisted yet.
func (n *Notifier) RecordInvalidation(ctx context.Context, builderID string, typ domain.Type, pages []string) (*domain.Event, error) {
	if builderID == "" {
		return nil, apperr.Invalid("invalidation: builder id is required")
	}
	if !typ.Valid() {
		return nil, apperr.Invalid("invalidation: unknown type " + string(typ))
	}
	pages = normalizePages(pages)
	if len(pages) == 0 {
		return nil, apperr.Invalid("invalidation: at least one page is required")
	}
	e := &domain.Event{
		ID:            uuid.New().String(),
		BuilderID:     builderID,
		Type:          typ,
		AffectedPages: pages,
		CreatedAt:     n.nowF(),
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, apperr.Unavailable(errClosed)
	}
	n.wg.Add(1)
	n.mu.Unlock()
	out := *e
	out.AffectedPages = append([]string(nil), e.AffectedPages...)
	go n.dispatch(e)
	return &out, nil
}

func normalizePages(pages []string) []string {
	seen := make(map[string]bool, len(pages))
	out := make([]string, 0, len(pages))
	for _, p := range pages {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// dispatch persists e with retry, then publishes it. It runs detached from the caller's context.
func (n *Notifier) dispatch(e *domain.Event) {
	defer n.wg.Done()
	n.slots <- struct{}{}
	defer func() { <-n.slots }()

	ctx, cancel := context.WithTimeout(context.Background(), n.maxElapsed+5*time.Second)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, n.repo.Create(ctx, e)
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(n.maxElapsed))
	if err != nil {
		n.logger.Error("invalidation: failed to persist event",
			zap.String("event_id", e.ID), zap.String("builder_id", e.BuilderID), zap.Error(err))
		telemetry.EmitAsync(n.emitter, ctx, n.event(telemetry.EventInvalidationFailed, e))
		return
	}
	n.metrics.InvalidationRecorded(ctx, string(e.Type))

	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, e.BuilderID, e); err != nil {
			n.logger.Warn("invalidation: publish failed", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
	telemetry.EmitAsync(n.emitter, ctx, n.event(telemetry.EventInvalidationRecorded, e))
}

func (n *Notifier) event(eventType string, e *domain.Event) *telemetry.Event {
	ev := telemetry.NewEvent(eventType, "invalidation")
	ev.BuilderID = e.BuilderID
	return ev.With("event_id", e.ID).With("type", string(e.Type)).With("pages", strings.Join(e.AffectedPages, ","))
}

// List returns persisted events with Seq greater than since, oldest first.
func (n *Notifier) List(ctx context.Context, since int64, limit int) ([]*domain.Event, error) {
	if since < 0 {
		return nil, apperr.Invalid("invalidation: since must not be negative")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	events, err := n.repo.ListSince(ctx, since, limit)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return events, nil
}

// Prune deletes events older than retention as of now.
func (n *Notifier) Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	deleted, err := n.repo.DeleteBefore(ctx, now.Add(-retention))
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	return deleted, nil
}

// Flush blocks until every queued event has been persisted or given up on, or ctx ends.
func (n *Notifier) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones like Flush.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return n.Flush(ctx)
}
