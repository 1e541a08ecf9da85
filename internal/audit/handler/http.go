// Package handler exposes audit log queries to admins.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/audit/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Reader lists audit entries.
type Reader interface {
	GetAllLogs(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error)
}

type listQuery struct {
	User     string `query:"user"`
	Resource string `query:"resource"`
	Action   string `query:"action"`
	Severity string `query:"severity"`
	From     string `query:"from"`
	To       string `query:"to"`
	Limit    int    `query:"limit"`
}

type entryResponse struct {
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

type listResponse struct {
	Entries []entryResponse `json:"entries"`
}

// Handler serves GET /audit-logs.
type Handler struct {
	reader Reader
}

// New returns an audit Handler.
func New(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// RegisterRoutes mounts the audit routes on an admin group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/audit-logs", h.List)
}

// List returns entries newest first. from and to are RFC 3339 timestamps.
func (h *Handler) List(c echo.Context) error {
	var q listQuery
	if err := c.Bind(&q); err != nil {
		return apperr.Invalid("malformed query")
	}
	f := domain.Filter{
		User:     q.User,
		Resource: q.Resource,
		Action:   q.Action,
		Severity: domain.Severity(q.Severity),
		Limit:    q.Limit,
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	var err error
	if f.From, err = parseTime(q.From); err != nil {
		return apperr.Invalid("from must be RFC 3339")
	}
	if f.To, err = parseTime(q.To); err != nil {
		return apperr.Invalid("to must be RFC 3339")
	}

	logs, err := h.reader.GetAllLogs(c.Request().Context(), f)
	if err != nil {
		return err
	}
	out := listResponse{Entries: make([]entryResponse, 0, len(logs))}
	for _, l := range logs {
		out.Entries = append(out.Entries, entryResponse{
			ID: l.ID, Seq: l.Seq, User: l.User, Action: l.Action, Resource: l.Resource,
			Details: l.Details, Severity: string(l.Severity), IP: l.IP, Timestamp: l.Timestamp,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
