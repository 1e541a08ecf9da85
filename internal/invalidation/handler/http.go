// Package handler lets the rendering layer poll cache invalidation events.
package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/invalidation/domain"
)

// Lister reads events after a sequence number.
type Lister interface {
	List(ctx context.Context, since int64, limit int) ([]*domain.Event, error)
}

type listQuery struct {
	Since int64 `query:"since"`
	Limit int   `query:"limit"`
}

type listResponse struct {
	Events []*domain.Event `json:"events"`
	// Next is the cursor to pass as since on the following poll.
	Next int64 `json:"next"`
}

type Handler struct {
	lister Lister
}

func New(lister Lister) *Handler {
	return &Handler{lister: lister}
}

// RegisterRoutes mounts GET /invalidations on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/invalidations", h.List)
}

// List returns events with seq greater than since, oldest first.
func (h *Handler) List(c echo.Context) error {
	var q listQuery
	if err := c.Bind(&q); err != nil {
		return apperr.Invalid("since and limit must be integers")
	}
	if q.Since < 0 {
		return apperr.Invalid("since must not be negative")
	}
	events, err := h.lister.List(c.Request().Context(), q.Since, q.Limit)
	if err != nil {
		return err
	}
	resp := listResponse{Events: events, Next: q.Since}
	if resp.Events == nil {
		resp.Events = []*domain.Event{}
	}
	if n := len(events); n > 0 {
		resp.Next = events[n-1].Seq
	}
	return c.JSON(http.StatusOK, resp)
}
