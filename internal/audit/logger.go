// Package audit is the append-only record of sensitive state changes.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/audit/domain"
	auditrepo "builder-claims/backend/internal/audit/repository"
	"builder-claims/backend/internal/platform/logging"
)

// SystemUser is recorded when a change has no acting user (e.g. the background sweeper).
const SystemUser = "system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Publisher mirrors persisted entries to a downstream log pipeline. Failures never fail the write.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Entry is the caller-supplied part of an audit log.
type Entry struct {
	User     string
	Action   string
	Resource string
	Details  string
	Severity domain.Severity
	// IP overrides the extractor when set.
	IP string
}

// Record is the JSON shape mirrored to the publisher.
type Record struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Details   string    `json:"details,omitempty"`
	Severity  string    `json:"severity"`
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger validates, persists and mirrors audit entries.
type Logger struct {
	repo        auditrepo.Repository
	publisher   Publisher
	ipExtractor IPExtractor
	logger      *zap.Logger
	maxElapsed  time.Duration
	nowF        func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithPublisher mirrors every persisted entry to p.
func WithPublisher(p Publisher) Option { return func(l *Logger) { l.publisher = p } }

// WithIPExtractor sets how the client IP is read from the request context.
func WithIPExtractor(f IPExtractor) Option { return func(l *Logger) { l.ipExtractor = f } }

// WithZap sets the operational logger.
func WithZap(z *zap.Logger) Option { return func(l *Logger) { l.logger = logging.OrNop(z) } }

// WithRetryMaxElapsed bounds how long a failed write is retried.
func WithRetryMaxElapsed(d time.Duration) Option { return func(l *Logger) { l.maxElapsed = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(l *Logger) { l.nowF = now } }

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo auditrepo.Repository, opts ...Option) *Logger {
	l := &Logger{
		repo:       repo,
		logger:     zap.NewNop(),
		maxElapsed: 2 * time.Second,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// AddLog appends one entry. Store failures are retried with exponential backoff and then
// surface as apperr.ErrStoreUnavailable.
func (l *Logger) AddLog(ctx context.Context, e Entry) (*domain.AuditLog, error) {
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}
	switch {
	case strings.TrimSpace(e.User) == "":
		return nil, apperr.Invalid("audit: user is required")
	case strings.TrimSpace(e.Action) == "":
		return nil, apperr.Invalid("audit: action is required")
	case strings.TrimSpace(e.Resource) == "":
		return nil, apperr.Invalid("audit: resource is required")
	case !e.Severity.Valid():
		return nil, apperr.Invalid("audit: unknown severity " + string(e.Severity))
	}

	ip := e.IP
	if ip == "" && l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if ip == "" {
		ip = "unknown"
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		User:      e.User,
		Action:    e.Action,
		Resource:  e.Resource,
		Details:   e.Details,
		Severity:  e.Severity,
		IP:        ip,
		Timestamp: l.nowF(),
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, l.repo.Create(ctx, entry)
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(l.maxElapsed))
	if err != nil {
		l.logger.Error("audit: failed to persist entry",
			zap.String("action", e.Action), zap.String("resource", e.Resource), zap.Error(err))
		return nil, apperr.Unavailable(err)
	}

	l.mirror(entry)
	return entry, nil
}

// LogEvent writes one entry best-effort: failures are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Entry) {
	if l == nil || l.repo == nil {
		return
	}
	_, _ = l.AddLog(ctx, e)
}

// GetAllLogs returns entries matching f, newest first.
func (l *Logger) GetAllLogs(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error) {
	if f.Severity != "" && !f.Severity.Valid() {
		return nil, apperr.Invalid("audit: unknown severity " + string(f.Severity))
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, apperr.Invalid("audit: to is before from")
	}
	logs, err := l.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return logs, nil
}

// Database change operations accepted by LogDatabaseChange.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

type dbChange struct {
	Table    string         `json:"table"`
	Op       string         `json:"op"`
	RecordID string         `json:"recordId"`
	Changes  map[string]any `json:"changes,omitempty"`
	Note     string         `json:"note,omitempty"`
}

// LogDatabaseChange records a row-level change as a structured audit entry on resource "table/recordID".
// Deletes are logged as warnings.
func (l *Logger) LogDatabaseChange(ctx context.Context, user, table, op, recordID string, changes map[string]any, note string) (*domain.AuditLog, error) {
	op = strings.ToLower(op)
	if op != OpInsert && op != OpUpdate && op != OpDelete {
		return nil, apperr.Invalid("audit: unknown database operation " + op)
	}
	if table == "" || recordID == "" {
		return nil, apperr.Invalid("audit: table and record id are required")
	}
	details, err := json.Marshal(dbChange{Table: table, Op: op, RecordID: recordID, Changes: changes, Note: note})
	if err != nil {
		return nil, apperr.Invalid("audit: changes are not serializable")
	}
	sev := domain.SeverityInfo
	if op == OpDelete {
		sev = domain.SeverityWarning
	}
	return l.AddLog(ctx, Entry{
		User:     user,
		Action:   "db_" + op,
		Resource: table + "/" + recordID,
		Details:  string(details),
		Severity: sev,
	})
}

func (l *Logger) mirror(entry *domain.AuditLog) {
	if l.publisher == nil {
		return
	}
	rec := Record{
		ID: entry.ID, Seq: entry.Seq, User: entry.User, Action: entry.Action, Resource: entry.Resource,
		Details: entry.Details, Severity: string(entry.Severity), IP: entry.IP, Timestamp: entry.Timestamp,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.publisher.Publish(ctx, rec.Resource, rec); err != nil {
			l.logger.Warn("audit: mirror publish failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}()
}
