// Package handler implements the dev-only endpoint that reads back issued codes.
package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"builder-claims/backend/internal/apperr"
)

const devOTPNote = "DEV MODE ONLY"

// CodeStore returns the plain code for a challenge.
type CodeStore interface {
	Get(ctx context.Context, challengeID string) (string, bool)
}

type devOTPResponse struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
	Note        string `json:"note"`
}

// DevHandler serves GET /dev/otp/:challengeId. Only mount it outside production.
type DevHandler struct {
	store CodeStore
}

func NewDevHandler(store CodeStore) *DevHandler {
	return &DevHandler{store: store}
}

func (h *DevHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/otp/:challengeId", h.GetOTP)
}

// GetOTP returns the code for the challenge, or NotFound if missing or expired.
func (h *DevHandler) GetOTP(c echo.Context) error {
	id := c.Param("challengeId")
	if id == "" {
		return apperr.Invalid("challenge_id is required")
	}
	code, ok := h.store.Get(c.Request().Context(), id)
	if !ok {
		return apperr.ErrNotFound
	}
	return c.JSON(http.StatusOK, devOTPResponse{ChallengeID: id, Code: code, Note: devOTPNote})
}
