// Package service implements the OTP challenge lifecycle: issue, deliver, verify and purge.
package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/otp"
	"builder-claims/backend/internal/otp/domain"
	"builder-claims/backend/internal/otp/notifier"
	"builder-claims/backend/internal/otp/ratelimit"
	"builder-claims/backend/internal/otp/repository"
	"builder-claims/backend/internal/platform/keylock"
	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/security"
	"builder-claims/backend/internal/telemetry"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultPurgeGrace      = time.Hour
)

// Config holds challenge lifetime and attempt limits.
type Config struct {
	TTL             time.Duration
	MaxAttempts     int
	DeliveryTimeout time.Duration
	// PurgeGrace is how long past expiry a challenge is kept. It must cover the issuance
	// window when the store-count limiter is used.
	PurgeGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.PurgeGrace <= 0 {
		c.PurgeGrace = DefaultPurgeGrace
	}
	return c
}

// IssueRequest asks for a new challenge for a builder's contact.
type IssueRequest struct {
	ClaimID   string
	BuilderID string
	Contact   string
	Method    domain.Method
}

// Issued is a persisted challenge whose code has not been delivered yet.
type Issued struct {
	Challenge *domain.Challenge
	code      string
}

// VerifyRequest submits a code. When ChallengeID is empty the builder's current challenge
// for Method is used.
type VerifyRequest struct {
	ChallengeID string
	BuilderID   string
	Method      domain.Method
	Code        string
	IP          string
	UserAgent   string
}

// ChallengeService issues and verifies one-time codes. Mutations for a builder are serialized.
type ChallengeService struct {
	repo     repository.Repository
	logs     repository.VerificationLogRepository
	limiter  ratelimit.Limiter
	notifier notifier.Notifier
	hasher   *security.CodeHasher
	locks    *keylock.Locker
	cfg      Config

	logger  *zap.Logger
	metrics *telemetry.Metrics
	emitter telemetry.EventEmitter
	nowF    func() time.Time
	genCode func() (string, error)
}

// Option configures a ChallengeService.
type Option func(*ChallengeService)

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option { return func(s *ChallengeService) { s.logger = logging.OrNop(l) } }

// WithMetrics records issuance and verification counters.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *ChallengeService) { s.metrics = m } }

// WithEmitter emits domain events for issuance and verification.
func WithEmitter(e telemetry.EventEmitter) Option { return func(s *ChallengeService) { s.emitter = e } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *ChallengeService) { s.nowF = now } }

// WithCodeGenerator overrides code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *ChallengeService) { s.genCode = gen }
}

// NewChallengeService returns a ChallengeService. limiter and n may be nil.
func NewChallengeService(
	repo repository.Repository,
	logs repository.VerificationLogRepository,
	limiter ratelimit.Limiter,
	n notifier.Notifier,
	hasher *security.CodeHasher,
	cfg Config,
	opts ...Option,
) *ChallengeService {
	s := &ChallengeService{
		repo:     repo,
		logs:     logs,
		limiter:  limiter,
		notifier: n,
		hasher:   hasher,
		locks:    keylock.New(),
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		nowF:     func() time.Time { return time.Now().UTC() },
		genCode:  otp.GenerateCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func lockKey(builderID string) string { return "otp:" + builderID }

// IssueChallenge creates a challenge and delivers its code. When delivery fails the
// challenge is still returned with an ErrDeliveryFailed error; it stays valid until it expires.
func (s *ChallengeService) IssueChallenge(ctx context.Context, req IssueRequest) (*domain.Challenge, error) {
	iss, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return iss.Challenge, s.Deliver(ctx, iss)
}

// Prepare creates and persists a challenge under the builder's lock without delivering it.
// Prior challenges for the same builder and method are invalidated.
func (s *ChallengeService) Prepare(ctx context.Context, req IssueRequest) (*Issued, error) {
	if req.BuilderID == "" {
		return nil, apperr.Invalid("builder_id is required")
	}
	if req.Contact == "" {
		return nil, apperr.Invalid("contact is required")
	}
	if !req.Method.Valid() {
		return nil, apperr.Invalid("method must be email or phone")
	}

	unlock := s.locks.Lock(lockKey(req.BuilderID))
	defer unlock()

	now := s.nowF()
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, req.BuilderID, now)
		if err != nil {
			return nil, apperr.Unavailable(err)
		}
		if !ok {
			s.logger.Info("otp: issuance rate limited", zap.String("builder_id", req.BuilderID))
			return nil, apperr.ErrRateLimited
		}
	}

	code, err := s.genCode()
	if err != nil {
		return nil, errors.Wrap(err, "otp: generate code")
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, errors.Wrap(err, "otp: hash code")
	}
	if _, err := s.repo.InvalidateActive(ctx, req.BuilderID, req.Method, now); err != nil {
		return nil, apperr.Unavailable(err)
	}
	c := &domain.Challenge{
		ID:          uuid.New().String(),
		ClaimID:     req.ClaimID,
		BuilderID:   req.BuilderID,
		Contact:     req.Contact,
		Method:      req.Method,
		CodeHash:    hash,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, apperr.Unavailable(err)
	}
	s.metrics.OTPIssued(ctx, string(c.Method))
	return &Issued{Challenge: c, code: code}, nil
}

// Deliver sends the code of iss through the notifier with the delivery timeout.
// Call it outside any lock. There is no retry; callers may request re-issuance.
func (s *ChallengeService) Deliver(ctx context.Context, iss *Issued) error {
	c := iss.Challenge
	if s.notifier == nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	err := s.notifier.Send(dctx, notifier.Delivery{
		ChallengeID: c.ID,
		Contact:     c.Contact,
		Method:      c.Method,
		Code:        iss.code,
		ExpiresAt:   c.ExpiresAt,
	})
	if err != nil {
		s.logger.Error("otp: delivery failed",
			zap.String("challenge_id", c.ID), zap.String("builder_id", c.BuilderID),
			zap.String("method", string(c.Method)), zap.Error(err))
		telemetry.EmitAsync(s.emitter, ctx, s.event(telemetry.EventOTPDeliveryFailed, c))
		return apperr.With(apperr.ErrDeliveryFailed, err)
	}
	telemetry.EmitAsync(s.emitter, ctx, s.event(telemetry.EventOTPIssued, c))
	return nil
}

// VerifyChallenge checks a submitted code. Every call that reaches an active challenge
// consumes one attempt. On success the challenge is verified and a verification log written.
// An already verified challenge returns itself with ErrAlreadyVerified, but only for its own
// code; any other code counts as a failed attempt. When looked up by builder and method, a code
// belonging to a superseded challenge returns ErrNotFound without charging the current one.
func (s *ChallengeService) VerifyChallenge(ctx context.Context, req VerifyRequest) (*domain.Challenge, error) {
	if req.BuilderID == "" || req.Code == "" {
		return nil, apperr.Invalid("builder_id and code are required")
	}
	if req.ChallengeID == "" && !req.Method.Valid() {
		return nil, apperr.Invalid("method must be email or phone")
	}

	unlock := s.locks.Lock(lockKey(req.BuilderID))
	defer unlock()

	now := s.nowF()
	var (
		c   *domain.Challenge
		err error
	)
	if req.ChallengeID != "" {
		c, err = s.repo.GetByID(ctx, req.ChallengeID)
	} else {
		c, err = s.repo.GetCurrent(ctx, req.BuilderID, req.Method)
	}
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if c == nil || c.BuilderID != req.BuilderID || (req.Method != "" && c.Method != req.Method) || c.Invalidated() {
		s.metrics.OTPVerifyFailed(ctx, "not_found")
		return nil, apperr.ErrNotFound
	}
	if c.Verified {
		if c.Expired(now) {
			s.metrics.OTPVerifyFailed(ctx, "expired")
			return nil, apperr.ErrExpired
		}
		if s.hasher.Match(c.CodeHash, req.Code) {
			return c, apperr.ErrAlreadyVerified
		}
		return nil, s.failAttempt(ctx, c, now)
	}
	if c.Expired(now) {
		c.Invalidate(now)
		if err := s.repo.Update(ctx, c); err != nil {
			return nil, apperr.Unavailable(err)
		}
		s.metrics.OTPVerifyFailed(ctx, "expired")
		return nil, apperr.ErrExpired
	}
	if c.Attempts >= s.cfg.MaxAttempts {
		return nil, s.exhaust(ctx, c, now)
	}

	if !s.hasher.Match(c.CodeHash, req.Code) {
		if req.ChallengeID == "" {
			stale, err := s.matchesSuperseded(ctx, c, req.Code, now)
			if err != nil {
				return nil, apperr.Unavailable(err)
			}
			if stale {
				s.metrics.OTPVerifyFailed(ctx, "superseded")
				return nil, apperr.ErrNotFound
			}
		}
		return nil, s.failAttempt(ctx, c, now)
	}

	c.Attempts++
	verifiedAt := now
	c.Verified = true
	c.VerifiedAt = &verifiedAt
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, apperr.Unavailable(err)
	}
	entry := &domain.VerificationLog{
		ID:          uuid.New().String(),
		ChallengeID: c.ID,
		BuilderID:   c.BuilderID,
		Method:      c.Method,
		Contact:     c.Contact,
		Attempts:    c.Attempts,
		VerifiedAt:  verifiedAt,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
	}
	if err := s.logs.Create(ctx, entry); err != nil && !errors.Is(err, repository.ErrDuplicateLog) {
		c.Verified = false
		c.VerifiedAt = nil
		if rbErr := s.repo.Update(ctx, c); rbErr != nil {
			s.logger.Error("otp: revert verification failed", zap.String("challenge_id", c.ID), zap.Error(rbErr))
		}
		return nil, apperr.Unavailable(err)
	}
	telemetry.EmitAsync(s.emitter, ctx, s.event(telemetry.EventOTPVerified, c).
		With("attempts", strconv.Itoa(c.Attempts)))
	return c, nil
}

// failAttempt charges one attempt for a wrong code and invalidates c once the limit is reached.
func (s *ChallengeService) failAttempt(ctx context.Context, c *domain.Challenge, now time.Time) error {
	c.Attempts++
	if c.Attempts >= s.cfg.MaxAttempts {
		return s.exhaust(ctx, c, now)
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return apperr.Unavailable(err)
	}
	s.metrics.OTPVerifyFailed(ctx, "invalid_code")
	return apperr.ErrInvalidCode
}

// matchesSuperseded reports whether code belongs to an unexpired challenge of the same pair
// that was replaced by cur.
func (s *ChallengeService) matchesSuperseded(ctx context.Context, cur *domain.Challenge, code string, now time.Time) (bool, error) {
	old, err := s.repo.ListSuperseded(ctx, cur.BuilderID, cur.Method, now)
	if err != nil {
		return false, err
	}
	for _, c := range old {
		if c.ID != cur.ID && s.hasher.Match(c.CodeHash, code) {
			return true, nil
		}
	}
	return false, nil
}

func (s *ChallengeService) exhaust(ctx context.Context, c *domain.Challenge, now time.Time) error {
	c.Invalidate(now)
	if err := s.repo.Update(ctx, c); err != nil {
		return apperr.Unavailable(err)
	}
	s.metrics.OTPVerifyFailed(ctx, "attempts_exceeded")
	s.logger.Info("otp: attempts exhausted", zap.String("challenge_id", c.ID), zap.String("builder_id", c.BuilderID))
	return apperr.ErrAttemptsExceeded
}

// GetChallenge returns the challenge for id or ErrNotFound.
func (s *ChallengeService) GetChallenge(ctx context.Context, id string) (*domain.Challenge, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if c == nil {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

// PurgeExpired deletes challenges that expired more than the purge grace before now.
func (s *ChallengeService) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.repo.DeleteExpiredBefore(ctx, now.Add(-s.cfg.PurgeGrace))
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	return n, nil
}

func (s *ChallengeService) event(eventType string, c *domain.Challenge) *telemetry.Event {
	e := telemetry.NewEvent(eventType, "otp")
	e.BuilderID = c.BuilderID
	e.ClaimID = c.ClaimID
	return e.With("challenge_id", c.ID).With("method", string(c.Method))
}
