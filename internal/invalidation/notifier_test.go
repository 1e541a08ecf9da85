package invalidation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/invalidation/domain"
	"builder-claims/backend/internal/invalidation/repository"
)

// flakyRepo fails the first failures Create calls.
type flakyRepo struct {
	*repository.MemoryRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepo) Create(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return r.MemoryRepository.Create(ctx, e)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return p.err
}

func flush(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Flush(ctx))
}

func TestRecordInvalidation_PersistsAndPublishes(t *testing.T) {
	repo := repository.NewMemoryRepository()
	pub := &recordingPublisher{}
	n := NewNotifier(repo, WithPublisher(pub))

	e, err := n.RecordInvalidation(context.Background(), "B1", domain.TypeClaim,
		[]string{"/builders/B1", " ", "/directory", "/builders/B1", "search-index"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/builders/B1", "/directory", "search-index"}, e.AffectedPages)
	flush(t, n)

	events, err := n.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)
	assert.Equal(t, domain.TypeClaim, events[0].Type)
	assert.Equal(t, []string{"B1"}, pub.keys)
}

func TestRecordInvalidation_ReturnsCallerCopy(t *testing.T) {
	repo := repository.NewMemoryRepository()
	n := NewNotifier(repo)

	e, err := n.RecordInvalidation(context.Background(), "B1", domain.TypeClaim, []string{"/builders/B1", "/directory"})
	require.NoError(t, err)
	e.AffectedPages[0] = "/elsewhere"
	e.BuilderID = "B9"
	flush(t, n)

	assert.Zero(t, e.Seq)
	events, err := n.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)
	assert.Equal(t, "B1", events[0].BuilderID)
	assert.Equal(t, []string{"/builders/B1", "/directory"}, events[0].AffectedPages)
	assert.NotZero(t, events[0].Seq)
}

func TestRecordInvalidation_RetriesStoreFailures(t *testing.T) {
	repo := &flakyRepo{MemoryRepository: repository.NewMemoryRepository(), failures: 2}
	n := NewNotifier(repo, WithRetryMaxElapsed(3*time.Second))

	_, err := n.RecordInvalidation(context.Background(), "B1", domain.TypeProfileUpdate, []string{"/builders/B1"})
	require.NoError(t, err)
	flush(t, n)

	events, _ := n.List(context.Background(), 0, 0)
	assert.Len(t, events, 1)
	assert.Equal(t, 3, repo.calls)
}

func TestRecordInvalidation_PublishFailureDoesNotLoseEvent(t *testing.T) {
	n := NewNotifier(repository.NewMemoryRepository(), WithPublisher(&recordingPublisher{err: errors.New("broker down")}))
	_, err := n.RecordInvalidation(context.Background(), "B1", domain.TypeClaim, domain.ClaimPages("B1"))
	require.NoError(t, err)
	flush(t, n)

	events, _ := n.List(context.Background(), 0, 0)
	assert.Len(t, events, 1)
}

func TestRecordInvalidation_DoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingRepo{MemoryRepository: repository.NewMemoryRepository(), release: release}
	n := NewNotifier(blocking)

	done := make(chan struct{})
	go func() {
		_, _ = n.RecordInvalidation(context.Background(), "B1", domain.TypeClaim, domain.ClaimPages("B1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordInvalidation blocked on the store")
	}
	close(release)
	flush(t, n)
}

type blockingRepo struct {
	*repository.MemoryRepository
	release chan struct{}
}

func (r *blockingRepo) Create(ctx context.Context, e *domain.Event) error {
	<-r.release
	return r.MemoryRepository.Create(ctx, e)
}

func TestRecordInvalidation_Validation(t *testing.T) {
	n := NewNotifier(repository.NewMemoryRepository())
	ctx := context.Background()

	_, err := n.RecordInvalidation(ctx, "", domain.TypeClaim, []string{"/a"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = n.RecordInvalidation(ctx, "B1", "rebuild", []string{"/a"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = n.RecordInvalidation(ctx, "B1", domain.TypeClaim, []string{"", "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestClose_RejectsNewEvents(t *testing.T) {
	n := NewNotifier(repository.NewMemoryRepository())
	_, err := n.RecordInvalidation(context.Background(), "B1", domain.TypeClaim, domain.ClaimPages("B1"))
	require.NoError(t, err)
	require.NoError(t, n.Close(context.Background()))

	events, _ := n.List(context.Background(), 0, 0)
	assert.Len(t, events, 1, "queued event is drained on close")

	_, err = n.RecordInvalidation(context.Background(), "B1", domain.TypeClaim, domain.ClaimPages("B1"))
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
}

func TestListAndPrune(t *testing.T) {
	now := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	clock := now.Add(-10 * 24 * time.Hour)
	n := NewNotifier(repository.NewMemoryRepository(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err := n.RecordInvalidation(ctx, "B1", domain.TypeClaim, domain.ClaimPages("B1"))
	require.NoError(t, err)
	flush(t, n)
	clock = now
	_, err = n.RecordInvalidation(ctx, "B2", domain.TypeClaim, domain.ClaimPages("B2"))
	require.NoError(t, err)
	flush(t, n)

	first, err := n.List(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	rest, err := n.List(ctx, first[0].Seq, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "B2", rest[0].BuilderID)

	_, err = n.List(ctx, -1, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	pruned, err := n.Prune(ctx, now, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	left, _ := n.List(ctx, 0, 0)
	require.Len(t, left, 1)
	assert.Equal(t, "B2", left[0].BuilderID)
}
