package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/audit"
	auditdomain "builder-claims/backend/internal/audit/domain"
	auditrepo "builder-claims/backend/internal/audit/repository"
	"builder-claims/backend/internal/session/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingAuditor struct{}

func (failingAuditor) AddLog(context.Context, audit.Entry) (*auditdomain.AuditLog, error) {
	return nil, errors.New("audit down")
}

func newService(t *testing.T) (*SessionService, *audit.Logger, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	logger := audit.NewLogger(auditrepo.NewMemoryRepository(), audit.WithClock(clk.Now))
	return NewSessionService(repository.NewMemoryRepository(), logger, WithClock(clk.Now)), logger, clk
}

func endedEntries(t *testing.T, l *audit.Logger) []*auditdomain.AuditLog {
	t.Helper()
	logs, err := l.GetAllLogs(context.Background(), auditdomain.Filter{})
	require.NoError(t, err)
	var out []*auditdomain.AuditLog
	for _, e := range logs {
		if e.Action == "session_ended" {
			out = append(out, e)
		}
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	svc, logger, clk := newService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "admin1")
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	require.NoError(t, svc.RecordPageVisit(ctx, sess.ID, "/admin/leads"))
	clk.Advance(90 * time.Second)

	d, err := svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	require.NotNil(t, got.Duration)
	assert.Greater(t, *got.Duration, time.Duration(0))
	assert.Equal(t, got.EndedAt.Sub(got.StartedAt), *got.Duration)
	require.Len(t, got.PageVisits, 1)
	assert.Equal(t, "/admin/leads", got.PageVisits[0].URL)

	entries := endedEntries(t, logger)
	require.Len(t, entries, 1)
	assert.Equal(t, auditdomain.SeverityInfo, entries[0].Severity)
	assert.Equal(t, "admin1", entries[0].User)
}

func TestEndSession_Idempotent(t *testing.T) {
	svc, logger, clk := newService(t)
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "admin1")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	first, err := svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	second, err := svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, endedEntries(t, logger), 1)
}

func TestEndSession_Concurrent(t *testing.T) {
	svc, logger, clk := newService(t)
	ctx := context.Background()
	sess, err := svc.StartSession(ctx, "admin1")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := svc.EndSession(ctx, sess.ID)
			assert.NoError(t, err)
			assert.Equal(t, time.Minute, d)
		}()
	}
	wg.Wait()
	assert.Len(t, endedEntries(t, logger), 1)
}

func TestRecordPageVisit_ClosedSessionIgnored(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	sess, err := svc.StartSession(ctx, "admin1")
	require.NoError(t, err)
	_, err = svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, svc.RecordPageVisit(ctx, sess.ID, "/admin/late"))
	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PageVisits)
}

func TestUnknownSession(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	assert.True(t, apperr.Is(svc.RecordPageVisit(ctx, "nope", "/x"), apperr.ErrNotFound))
	_, err := svc.EndSession(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
	_, err = svc.GetSession(ctx, "nope")
	assert.True(t, apperr.Is(err, apperr.ErrNotFound))
}

func TestValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.StartSession(ctx, "  ")
	assert.True(t, apperr.Is(err, apperr.ErrInvalidArgument))
	sess, err := svc.StartSession(ctx, "admin1")
	require.NoError(t, err)
	assert.True(t, apperr.Is(svc.RecordPageVisit(ctx, sess.ID, ""), apperr.ErrInvalidArgument))
}

func TestAuditFailureDoesNotFailSession(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewSessionService(repository.NewMemoryRepository(), failingAuditor{}, WithClock(clk.Now))
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "admin1")
	require.NoError(t, err)
	clk.Advance(time.Second)
	d, err := svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}
