// Package handler exposes the claim lifecycle over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"builder-claims/backend/internal/claim/domain"
	"builder-claims/backend/internal/claim/service"
	otpdomain "builder-claims/backend/internal/otp/domain"
	"builder-claims/backend/internal/platform/httpx"
	"builder-claims/backend/internal/platform/logging"
)

// Service is the claim lifecycle used by the handler.
type Service interface {
	InitiateClaim(ctx context.Context, req service.InitiateRequest) (*service.Initiated, error)
	ConfirmClaim(ctx context.Context, req service.ConfirmRequest) (*domain.ClaimRecord, error)
	GetClaim(ctx context.Context, id string) (*domain.ClaimRecord, error)
}

type initiateRequest struct {
	BuilderID        string `json:"builder_id" validate:"required,max=128"`
	Contact          string `json:"contact" validate:"required,max=320"`
	Method           string `json:"method" validate:"required,oneof=email phone"`
	PlanType         string `json:"plan_type" validate:"required,max=64"`
	BusinessLocation string `json:"business_location" validate:"max=512"`
}

type initiateResponse struct {
	ClaimID     string    `json:"claim_id"`
	ChallengeID string    `json:"challenge_id"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type confirmRequest struct {
	Code string `json:"code" validate:"omitempty,len=6,numeric"`
}

// ClaimResponse is the public view of a claim record. Contact and client details are omitted.
type ClaimResponse struct {
	ID                    string     `json:"id"`
	BuilderID             string     `json:"builder_id"`
	Status                string     `json:"status"`
	Claimed               bool       `json:"claimed"`
	PlanType              string     `json:"plan_type"`
	VerificationMethod    string     `json:"verification_method"`
	ContactVerified       bool       `json:"contact_verified"`
	GMBImported           bool       `json:"gmb_imported"`
	VerificationTimestamp *time.Time `json:"verification_timestamp,omitempty"`
	ClaimedAt             *time.Time `json:"claimed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

func toResponse(c *domain.ClaimRecord) ClaimResponse {
	return ClaimResponse{
		ID:                    c.ID,
		BuilderID:             c.BuilderID,
		Status:                string(c.Status),
		Claimed:               c.Claimed,
		PlanType:              c.PlanType,
		VerificationMethod:    c.VerificationMethod,
		ContactVerified:       c.ContactVerified,
		GMBImported:           c.GMBImported,
		VerificationTimestamp: c.VerificationTimestamp,
		ClaimedAt:             c.ClaimedAt,
		CreatedAt:             c.CreatedAt,
	}
}

// Handler serves /v1/claims.
type Handler struct {
	svc        Service
	initiateMW []echo.MiddlewareFunc
}

// New returns a claim Handler.
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// WithInitiateLimiter throttles claim initiation per client IP. It runs before the service looks
// the builder up, so unknown and known builder ids share one budget.
func (h *Handler) WithInitiateLimiter(l *httpx.IPRateLimiter, logger *zap.Logger) *Handler {
	h.initiateMW = append(h.initiateMW, l.Middleware(logging.OrNop(logger)))
	return h
}

// RegisterRoutes mounts the claim routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/claims", h.Initiate, h.initiateMW...)
	g.POST("/claims/:id/confirm", h.Confirm)
	g.GET("/claims/:id", h.Get)
}

// Initiate starts a claim and sends the code.
func (h *Handler) Initiate(c echo.Context) error {
	var req initiateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	out, err := h.svc.InitiateClaim(c.Request().Context(), service.InitiateRequest{
		BuilderID:        req.BuilderID,
		Contact:          req.Contact,
		Method:           otpdomain.Method(req.Method),
		PlanType:         req.PlanType,
		BusinessLocation: req.BusinessLocation,
		IPAddress:        c.RealIP(),
		UserAgent:        c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, initiateResponse{
		ClaimID:     out.Claim.ID,
		ChallengeID: out.Challenge.ID,
		Status:      string(out.Claim.Status),
		ExpiresAt:   out.Challenge.ExpiresAt,
	})
}

// Confirm verifies the code and finalizes the claim.
func (h *Handler) Confirm(c echo.Context) error {
	var req confirmRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	rec, err := h.svc.ConfirmClaim(c.Request().Context(), service.ConfirmRequest{
		ClaimID:   c.Param("id"),
		Code:      req.Code,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(rec))
}

// Get returns the claim status.
func (h *Handler) Get(c echo.Context) error {
	rec, err := h.svc.GetClaim(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(rec))
}
