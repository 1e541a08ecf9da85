// Package handler exposes the session tracker over HTTP and records page visits for
// requests carrying a session token.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"builder-claims/backend/internal/platform/httpx"
	"builder-claims/backend/internal/platform/logging"
	"builder-claims/backend/internal/session/domain"
)

const bearerPrefix = "bearer "

// Service is the session tracker used by the handler.
type Service interface {
	StartSession(ctx context.Context, user string) (*domain.Session, error)
	RecordPageVisit(ctx context.Context, sessionID, url string) error
	EndSession(ctx context.Context, sessionID string) (time.Duration, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Tokens issues and validates signed session tokens.
type Tokens interface {
	Issue(sessionID, user string) (token string, expiresAt time.Time, err error)
	Validate(token string) (sessionID, user string, err error)
}

type startRequest struct {
	User string `json:"user" validate:"required,max=128"`
}

type startResponse struct {
	SessionID      string     `json:"session_id"`
	StartedAt      time.Time  `json:"started_at"`
	Token          string     `json:"token,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

type visitRequest struct {
	URL string `json:"url" validate:"required,max=2048"`
}

type endResponse struct {
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
}

// SessionResponse is the admin view of a session.
type SessionResponse struct {
	ID         string             `json:"id"`
	User       string             `json:"user"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	DurationMs *int64             `json:"duration_ms,omitempty"`
	PageVisits []domain.PageVisit `json:"page_visits"`
}

func toResponse(s *domain.Session) SessionResponse {
	out := SessionResponse{
		ID:         s.ID,
		User:       s.User,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		PageVisits: s.PageVisits,
	}
	if out.PageVisits == nil {
		out.PageVisits = []domain.PageVisit{}
	}
	if s.Duration != nil {
		ms := s.Duration.Milliseconds()
		out.DurationMs = &ms
	}
	return out
}

// Handler serves the session routes.
type Handler struct {
	svc    Service
	tokens Tokens
	logger *zap.Logger
}

// New returns a session Handler. tokens may be nil, in which case no tokens are issued.
func New(svc Service, tokens Tokens, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, logger: logging.OrNop(logger)}
}

// RegisterRoutes mounts the public session routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sessions", h.Start)
	g.POST("/sessions/:id/visits", h.RecordVisit)
	g.POST("/sessions/:id/end", h.End)
}

// RegisterAdminRoutes mounts the admin session routes on g.
func (h *Handler) RegisterAdminRoutes(g *echo.Group) {
	g.GET("/sessions/:id", h.Get)
}

// Start opens a session for an already authenticated user.
func (h *Handler) Start(c echo.Context) error {
	var req startRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.StartSession(c.Request().Context(), req.User)
	if err != nil {
		return err
	}
	resp := startResponse{SessionID: sess.ID, StartedAt: sess.StartedAt}
	if h.tokens != nil {
		tok, exp, err := h.tokens.Issue(sess.ID, sess.User)
		if err != nil {
			return err
		}
		resp.Token = tok
		resp.TokenExpiresAt = &exp
	}
	return c.JSON(http.StatusCreated, resp)
}

// RecordVisit appends a page visit.
func (h *Handler) RecordVisit(c echo.Context) error {
	var req visitRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.RecordPageVisit(c.Request().Context(), c.Param("id"), req.URL); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// End closes the session and returns its duration.
func (h *Handler) End(c echo.Context) error {
	id := c.Param("id")
	d, err := h.svc.EndSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, endResponse{SessionID: id, DurationMs: d.Milliseconds()})
}

// Get returns a session with its visits.
func (h *Handler) Get(c echo.Context) error {
	sess, err := h.svc.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(sess))
}

type ctxKey struct{}

// SessionID returns the session id set by VisitRecorder, if any.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}

// VisitRecorder validates a Bearer session token when present and records successful GET
// requests as page visits. Missing or invalid tokens pass through untouched; authentication
// is not this middleware's job.
func (h *Handler) VisitRecorder() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.tokens == nil {
				return next(c)
			}
			token := extractBearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return next(c)
			}
			sessionID, _, err := h.tokens.Validate(token)
			if err != nil {
				return next(c)
			}
			req := c.Request()
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), ctxKey{}, sessionID)))

			err = next(c)
			if err != nil || req.Method != http.MethodGet || c.Response().Status >= http.StatusBadRequest {
				return err
			}
			if verr := h.svc.RecordPageVisit(c.Request().Context(), sessionID, req.URL.Path); verr != nil {
				h.logger.Warn("session: record visit failed", zap.String("session_id", sessionID), zap.Error(verr))
			}
			return nil
		}
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
