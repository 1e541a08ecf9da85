// Package service implements the claim lifecycle: initiate, confirm and finalize, and expiry.
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/audit"
	auditdomain "builder-claims/backend/internal/audit/domain"
	"builder-claims/backend/internal/claim/domain"
	"builder-claims/backend/internal/claim/policy"
	"builder-claims/backend/internal/claim/repository"
	invdomain "builder-claims/backend/internal/invalidation/domain"
	otpdomain "builder-claims/backend/internal/otp/domain"
	otpservice "builder-claims/backend/internal/otp/service"
	"builder-claims/backend/internal/platform/keylock"
	"builder-claims/backend/internal/platform/logging"
	profiledomain "builder-claims/backend/internal/profile/domain"
	"builder-claims/backend/internal/telemetry"
)

// Audit actions written by the claim lifecycle.
const (
	ActionInitiated = "claim_initiated"
	ActionFinalized = "claim_finalized"
	ActionExpired   = "claim_expired"
	ActionRejected  = "claim_rejected"
)

const sweepBatch = 500

// Challenges is the OTP side of a claim.
type Challenges interface {
	Prepare(ctx context.Context, req otpservice.IssueRequest) (*otpservice.Issued, error)
	Deliver(ctx context.Context, iss *otpservice.Issued) error
	VerifyChallenge(ctx context.Context, req otpservice.VerifyRequest) (*otpdomain.Challenge, error)
	GetChallenge(ctx context.Context, id string) (*otpdomain.Challenge, error)
}

// Profiles is the profile store boundary.
type Profiles interface {
	GetProfile(ctx context.Context, id string) (*profiledomain.Profile, error)
	ApplyClaim(ctx context.Context, id, planType string, at time.Time) error
}

// Auditor appends audit log entries.
type Auditor interface {
	AddLog(ctx context.Context, e audit.Entry) (*auditdomain.AuditLog, error)
}

// Invalidator records pages to regenerate after a claim.
type Invalidator interface {
	RecordInvalidation(ctx context.Context, builderID string, typ invdomain.Type, pages []string) (*invdomain.Event, error)
}

// InitiateRequest starts a claim for a builder profile.
type InitiateRequest struct {
	BuilderID        string
	Contact          string
	Method           otpdomain.Method
	PlanType         string
	BusinessLocation string
	IPAddress        string
	UserAgent        string
}

// Initiated is a pending claim and the challenge issued for it.
type Initiated struct {
	Claim     *domain.ClaimRecord
	Challenge *otpdomain.Challenge
}

// ConfirmRequest submits the code for a claim. Code may be empty when retrying finalization
// of a verified claim.
type ConfirmRequest struct {
	ClaimID   string
	Code      string
	IPAddress string
	UserAgent string
}

// ClaimService owns claim records. Mutations for a builder are serialized.
type ClaimService struct {
	repo        repository.Repository
	challenges  Challenges
	profiles    Profiles
	policy      policy.Evaluator
	auditor     Auditor
	invalidator Invalidator
	locks       *keylock.Locker

	logger  *zap.Logger
	metrics *telemetry.Metrics
	emitter telemetry.EventEmitter
	nowF    func() time.Time
}

// Option configures a ClaimService.
type Option func(*ClaimService)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option { return func(s *ClaimService) { s.logger = logging.OrNop(l) } }

// WithMetrics records counters on m. Nil disables metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *ClaimService) { s.metrics = m } }

// WithEmitter sends lifecycle events to e.
func WithEmitter(e telemetry.EventEmitter) Option { return func(s *ClaimService) { s.emitter = e } }

// WithPolicy sets the eligibility policy. The default allows every claim.
func WithPolicy(p policy.Evaluator) Option { return func(s *ClaimService) { s.policy = p } }

// WithInvalidator records cache invalidations for finalized claims.
func WithInvalidator(i Invalidator) Option { return func(s *ClaimService) { s.invalidator = i } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *ClaimService) { s.nowF = now } }

// NewClaimService returns a ClaimService.
func NewClaimService(repo repository.Repository, challenges Challenges, profiles Profiles, auditor Auditor, opts ...Option) *ClaimService {
	s := &ClaimService{
		repo:       repo,
		challenges: challenges,
		profiles:   profiles,
		auditor:    auditor,
		policy:     policy.AllowAll{},
		locks:      keylock.New(),
		logger:     zap.NewNop(),
		nowF:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func lockKey(builderID string) string { return "claim:" + builderID }

func resource(id string) string { return "claim/" + id }

// InitiateClaim creates a pending claim and issues its challenge. Earlier pending claims of the
// builder are expired. When delivery fails the claim is still returned with ErrDeliveryFailed.
func (s *ClaimService) InitiateClaim(ctx context.Context, req InitiateRequest) (*Initiated, error) {
	req.BuilderID = strings.TrimSpace(req.BuilderID)
	req.Contact = strings.TrimSpace(req.Contact)
	switch {
	case req.BuilderID == "":
		return nil, apperr.Invalid("builder_id is required")
	case req.Contact == "":
		return nil, apperr.Invalid("contact is required")
	case !req.Method.Valid():
		return nil, apperr.Invalid("method must be email or phone")
	case strings.TrimSpace(req.PlanType) == "":
		return nil, apperr.Invalid("plan_type is required")
	}

	profile, err := s.profiles.GetProfile(ctx, req.BuilderID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if profile == nil {
		return nil, apperr.ErrNotFound
	}
	decision, err := s.policy.Evaluate(ctx, policy.Input{
		BuilderID:    req.BuilderID,
		Method:       string(req.Method),
		PlanType:     req.PlanType,
		GMBImported:  profile.GMBImported,
		PublicFields: profile.PublicFields,
	})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if !decision.Allow {
		s.logger.Info("claim: ineligible", zap.String("builder_id", req.BuilderID), zap.String("reason", decision.Reason))
		return nil, apperr.With(apperr.ErrIneligible, errors.New(decision.Reason))
	}

	unlock := s.locks.Lock(lockKey(req.BuilderID))
	rec, iss, err := s.createPending(ctx, req, profile)
	unlock()
	if err != nil {
		return nil, err
	}

	s.audit(ctx, audit.Entry{
		User:     req.BuilderID,
		Action:   ActionInitiated,
		Resource: resource(rec.ID),
		Details:  "method=" + string(req.Method) + " plan=" + req.PlanType,
		IP:       req.IPAddress,
	})
	s.metrics.ClaimInitiated(ctx, string(req.Method))
	telemetry.EmitAsync(s.emitter, ctx, s.event(telemetry.EventClaimInitiated, rec))

	out := &Initiated{Claim: rec, Challenge: iss.Challenge}
	return out, s.challenges.Deliver(ctx, iss)
}

// createPending runs under the builder lock.
func (s *ClaimService) createPending(ctx context.Context, req InitiateRequest, profile *profiledomain.Profile) (*domain.ClaimRecord, *otpservice.Issued, error) {
	claimed, err := s.repo.GetClaimedByBuilder(ctx, req.BuilderID)
	if err != nil {
		return nil, nil, apperr.Unavailable(err)
	}
	if claimed != nil {
		return nil, nil, apperr.ErrAlreadyClaimed
	}

	id := uuid.New().String()
	iss, err := s.challenges.Prepare(ctx, otpservice.IssueRequest{
		ClaimID:   id,
		BuilderID: req.BuilderID,
		Contact:   req.Contact,
		Method:    req.Method,
	})
	if err != nil {
		return nil, nil, err
	}

	now := s.nowF()
	pending, err := s.repo.ListPendingByBuilder(ctx, req.BuilderID)
	if err != nil {
		return nil, nil, apperr.Unavailable(err)
	}
	for _, p := range pending {
		if err := p.Transition(domain.StatusExpired, now); err != nil {
			continue
		}
		if err := s.repo.Update(ctx, p, domain.StatusPending); err != nil {
			return nil, nil, apperr.Unavailable(err)
		}
		s.logger.Info("claim: superseded", zap.String("claim_id", p.ID), zap.String("builder_id", p.BuilderID))
	}

	rec := &domain.ClaimRecord{
		ID:                 id,
		BuilderID:          req.BuilderID,
		ChallengeID:        iss.Challenge.ID,
		Status:             domain.StatusPending,
		Contact:            req.Contact,
		VerificationMethod: string(req.Method),
		PlanType:           req.PlanType,
		BusinessLocation:   req.BusinessLocation,
		IPAddress:          req.IPAddress,
		UserAgent:          req.UserAgent,
		GMBImported:        profile.GMBImported,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, nil, apperr.Unavailable(err)
	}
	return rec, iss, nil
}

// ConfirmClaim verifies the code for a pending claim and finalizes it. A claimed record is
// returned unchanged with no side effects. A verified record is finalized again without a code.
func (s *ClaimService) ConfirmClaim(ctx context.Context, req ConfirmRequest) (*domain.ClaimRecord, error) {
	if req.ClaimID == "" {
		return nil, apperr.Invalid("claim_id is required")
	}
	rec, err := s.GetClaim(ctx, req.ClaimID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lockKey(rec.BuilderID))
	defer unlock()

	if rec, err = s.GetClaim(ctx, req.ClaimID); err != nil {
		return nil, err
	}
	switch rec.Status {
	case domain.StatusClaimed:
		return rec, nil
	case domain.StatusExpired:
		return nil, apperr.ErrExpired
	case domain.StatusRejected:
		return nil, apperr.ErrNotFound
	case domain.StatusPending:
		if err := s.verify(ctx, rec, req); err != nil {
			return nil, err
		}
	}
	return s.finalize(ctx, rec)
}

// verify moves a pending record to verified. Expired or exhausted challenges expire the record.
func (s *ClaimService) verify(ctx context.Context, rec *domain.ClaimRecord, req ConfirmRequest) error {
	if req.Code == "" {
		return apperr.Invalid("code is required")
	}
	ch, err := s.challenges.VerifyChallenge(ctx, otpservice.VerifyRequest{
		ChallengeID: rec.ChallengeID,
		BuilderID:   rec.BuilderID,
		Code:        req.Code,
		IP:          req.IPAddress,
		UserAgent:   req.UserAgent,
	})
	switch {
	case err == nil:
	case apperr.Is(err, apperr.ErrAlreadyVerified) && ch != nil:
		// Same code accepted by an earlier call whose record update did not land.
	case apperr.Is(err, apperr.ErrExpired), apperr.Is(err, apperr.ErrAttemptsExceeded):
		if xerr := s.expire(ctx, rec, s.nowF()); xerr != nil {
			s.logger.Error("claim: expire after failed verification", zap.String("claim_id", rec.ID), zap.Error(xerr))
		}
		return err
	default:
		return err
	}

	at := s.nowF()
	if ch.VerifiedAt != nil {
		at = *ch.VerifiedAt
	}
	if err := rec.Transition(domain.StatusVerified, at); err != nil {
		return errors.WithStack(err)
	}
	if err := s.repo.Update(ctx, rec, domain.StatusPending); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// finalize moves a verified record to claimed. The record and its audit entry land together:
// when the audit write fails the record is restored to verified.
func (s *ClaimService) finalize(ctx context.Context, rec *domain.ClaimRecord) (*domain.ClaimRecord, error) {
	other, err := s.repo.GetClaimedByBuilder(ctx, rec.BuilderID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if other != nil && other.ID != rec.ID {
		s.reject(ctx, rec)
		return nil, apperr.ErrAlreadyClaimed
	}
	profile, err := s.profiles.GetProfile(ctx, rec.BuilderID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if profile == nil {
		return nil, apperr.ErrNotFound
	}

	now := s.nowF()
	if err := s.profiles.ApplyClaim(ctx, rec.BuilderID, rec.PlanType, now); err != nil {
		s.logger.Error("claim: apply to profile failed", zap.String("claim_id", rec.ID), zap.Error(err))
		return nil, apperr.Unavailable(err)
	}

	verified := rec.Clone()
	rec.GMBImported = profile.GMBImported
	if err := rec.Transition(domain.StatusClaimed, now); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := s.repo.Update(ctx, rec, domain.StatusVerified); err != nil {
		return nil, apperr.Unavailable(err)
	}

	details, _ := json.Marshal(map[string]any{
		"builderId":   rec.BuilderID,
		"planType":    rec.PlanType,
		"method":      rec.VerificationMethod,
		"gmbImported": rec.GMBImported,
	})
	if _, err := s.auditor.AddLog(ctx, audit.Entry{
		User:     rec.BuilderID,
		Action:   ActionFinalized,
		Resource: resource(rec.ID),
		Details:  string(details),
		Severity: auditdomain.SeveritySuccess,
		IP:       rec.IPAddress,
	}); err != nil {
		verified.Version = rec.Version
		if rbErr := s.repo.Update(ctx, verified, domain.StatusClaimed); rbErr != nil {
			s.logger.Error("claim: rollback to verified failed", zap.String("claim_id", rec.ID), zap.Error(rbErr))
		}
		s.logger.Error("claim: finalize not audited, rolled back", zap.String("claim_id", rec.ID), zap.Error(err))
		return nil, apperr.Unavailable(err)
	}

	s.metrics.ClaimFinalized(ctx)
	telemetry.EmitAsync(s.emitter, ctx, s.event(telemetry.EventClaimFinalized, rec).With("plan_type", rec.PlanType))
	if s.invalidator != nil {
		if _, err := s.invalidator.RecordInvalidation(ctx, rec.BuilderID, invdomain.TypeClaim, invdomain.ClaimPages(rec.BuilderID)); err != nil {
			s.logger.Warn("claim: record invalidation failed", zap.String("builder_id", rec.BuilderID), zap.Error(err))
		}
	}
	return rec, nil
}

func (s *ClaimService) reject(ctx context.Context, rec *domain.ClaimRecord) {
	from := rec.Status
	if err := rec.Transition(domain.StatusRejected, s.nowF()); err != nil {
		return
	}
	if err := s.repo.Update(ctx, rec, from); err != nil {
		s.logger.Error("claim: reject failed", zap.String("claim_id", rec.ID), zap.Error(err))
		return
	}
	s.audit(ctx, audit.Entry{
		User:     audit.SystemUser,
		Action:   ActionRejected,
		Resource: resource(rec.ID),
		Details:  "builder already claimed",
		Severity: auditdomain.SeverityWarning,
	})
}

func (s *ClaimService) expire(ctx context.Context, rec *domain.ClaimRecord, now time.Time) error {
	if err := rec.Transition(domain.StatusExpired, now); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, rec, domain.StatusPending); err != nil {
		return err
	}
	s.audit(ctx, audit.Entry{
		User:     audit.SystemUser,
		Action:   ActionExpired,
		Resource: resource(rec.ID),
		Details:  "challenge expired without verification",
	})
	telemetry.EmitAsync(s.emitter, ctx, s.event(telemetry.EventClaimExpired, rec))
	return nil
}

// ExpireStaleClaims expires pending claims whose challenge expired, was invalidated or was purged
// without verification. It returns how many records were expired.
func (s *ClaimService) ExpireStaleClaims(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx, sweepBatch)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	var (
		n        int
		firstErr error
	)
	for _, p := range pending {
		expired, err := s.expireIfStale(ctx, p.ID, p.BuilderID)
		if err != nil {
			s.logger.Warn("claim: sweep failed for record", zap.String("claim_id", p.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if expired {
			n++
		}
	}
	s.metrics.ClaimsExpired(ctx, n)
	return n, firstErr
}

func (s *ClaimService) expireIfStale(ctx context.Context, id, builderID string) (bool, error) {
	unlock := s.locks.Lock(lockKey(builderID))
	defer unlock()

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	if rec == nil || rec.Status != domain.StatusPending {
		return false, nil
	}
	now := s.nowF()
	ch, err := s.challenges.GetChallenge(ctx, rec.ChallengeID)
	switch {
	case apperr.Is(err, apperr.ErrNotFound):
	case err != nil:
		return false, err
	case !ch.Expired(now) && !ch.Invalidated():
		return false, nil
	}
	if err := s.expire(ctx, rec, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return false, nil
		}
		return false, apperr.Unavailable(err)
	}
	return true, nil
}

// GetClaim returns the claim for id or ErrNotFound.
func (s *ClaimService) GetClaim(ctx context.Context, id string) (*domain.ClaimRecord, error) {
	if id == "" {
		return nil, apperr.Invalid("claim_id is required")
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if rec == nil {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

func (s *ClaimService) audit(ctx context.Context, e audit.Entry) {
	if _, err := s.auditor.AddLog(ctx, e); err != nil {
		s.logger.Warn("claim: audit write failed", zap.String("action", e.Action), zap.String("resource", e.Resource), zap.Error(err))
	}
}

func (s *ClaimService) event(eventType string, rec *domain.ClaimRecord) *telemetry.Event {
	e := telemetry.NewEvent(eventType, "claim")
	e.BuilderID = rec.BuilderID
	e.ClaimID = rec.ID
	return e.With("method", rec.VerificationMethod)
}
