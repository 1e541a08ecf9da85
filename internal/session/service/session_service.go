// Package service tracks admin sessions: start, page visits and end with a recorded duration.
package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/audit"
	auditdomain "builder-claims/backend/internal/audit/domain"
	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/session/domain"
	"builder-claims/backend/internal/session/repository"
	"builder-claims/backend/internal/telemetry"
)

const resourcePrefix = "session/"

var errSessionState = errors.New("session: closed without duration")

// Auditor appends audit log entries.
type Auditor interface {
	AddLog(ctx context.Context, e audit.Entry) (*auditdomain.AuditLog, error)
}

// SessionService owns the session lifecycle. Audit writes are best-effort here.
type SessionService struct {
	repo    repository.Repository
	auditor Auditor
	logger  *zap.Logger
	metrics *telemetry.Metrics
	emitter telemetry.EventEmitter
	nowF    func() time.Time
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option { return func(s *SessionService) { s.logger = logging.OrNop(l) } }

// WithMetrics records counters on m. Nil disables metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *SessionService) { s.metrics = m } }

// WithEmitter sends lifecycle events to e.
func WithEmitter(e telemetry.EventEmitter) Option { return func(s *SessionService) { s.emitter = e } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *SessionService) { s.nowF = now } }

// NewSessionService returns a SessionService. auditor may be nil.
func NewSessionService(repo repository.Repository, auditor Auditor, opts ...Option) *SessionService {
	s := &SessionService{
		repo:    repo,
		auditor: auditor,
		logger:  zap.NewNop(),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StartSession opens a session for user.
func (s *SessionService) StartSession(ctx context.Context, user string) (*domain.Session, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, apperr.Invalid("session: user is required")
	}
	sess := &domain.Session{
		ID:        uuid.New().String(),
		User:      user,
		StartedAt: s.nowF(),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, apperr.Unavailable(err)
	}
	s.audit(ctx, audit.Entry{User: user, Action: "session_started", Resource: resourcePrefix + sess.ID})
	ev := telemetry.NewEvent(telemetry.EventSessionStarted, "session")
	ev.SessionID = sess.ID
	telemetry.EmitAsync(s.emitter, ctx, ev)
	return sess, nil
}

// RecordPageVisit appends url to an open session. Visits to a closed session are ignored.
func (s *SessionService) RecordPageVisit(ctx context.Context, sessionID, url string) error {
	url = strings.TrimSpace(url)
	if sessionID == "" {
		return apperr.Invalid("session: session id is required")
	}
	if url == "" {
		return apperr.Invalid("session: url is required")
	}
	added, err := s.repo.AddVisit(ctx, sessionID, domain.PageVisit{URL: url, At: s.nowF()})
	if err != nil {
		return apperr.Unavailable(err)
	}
	if added {
		return nil
	}
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if sess == nil {
		return apperr.ErrNotFound
	}
	return nil
}

// EndSession closes the session and returns its duration. Ending a closed session returns
// the stored duration and writes nothing.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (time.Duration, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if !sess.Open() {
		return *sess.Duration, nil
	}

	endedAt := s.nowF()
	if endedAt.Before(sess.StartedAt) {
		endedAt = sess.StartedAt
	}
	d := endedAt.Sub(sess.StartedAt)
	closed, err := s.repo.Close(ctx, sessionID, endedAt, d)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	if !closed {
		// Lost a race with a concurrent end.
		sess, err = s.GetSession(ctx, sessionID)
		if err != nil {
			return 0, err
		}
		if sess.Duration == nil {
			return 0, apperr.Unavailable(errSessionState)
		}
		return *sess.Duration, nil
	}

	s.audit(ctx, audit.Entry{
		User:     sess.User,
		Action:   "session_ended",
		Resource: resourcePrefix + sessionID,
		Details:  "duration=" + d.String() + " visits=" + strconv.Itoa(len(sess.PageVisits)),
	})
	s.metrics.SessionEnded(ctx, d)
	ev := telemetry.NewEvent(telemetry.EventSessionEnded, "session").With("duration_ms", strconv.FormatInt(d.Milliseconds(), 10))
	ev.SessionID = sessionID
	telemetry.EmitAsync(s.emitter, ctx, ev)
	return d, nil
}

// GetSession returns the session with its visits.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, apperr.Invalid("session: session id is required")
	}
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if sess == nil {
		return nil, apperr.ErrNotFound
	}
	return sess, nil
}

func (s *SessionService) audit(ctx context.Context, e audit.Entry) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.AddLog(ctx, e); err != nil {
		s.logger.Warn("session: audit write failed", zap.String("action", e.Action), zap.String("resource", e.Resource), zap.Error(err))
	}
}
