package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"builder-claims/backend/internal/otp/domain"
	"builder-claims/backend/internal/otp/notifier"
	"builder-claims/backend/internal/platform/httpx"
)

func TestGetOTP(t *testing.T) {
	store := notifier.NewDevStore()
	if err := store.Send(context.Background(), notifier.Delivery{
		ChallengeID: "ch1", Contact: "owner@example.com", Method: domain.MethodEmail,
		Code: "482913", ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	e := echo.New()
	e.HTTPErrorHandler = httpx.ErrorHandler(zap.NewNop())
	NewDevHandler(store).RegisterRoutes(e.Group("/dev"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/otp/ch1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"code":"482913"`) || !strings.Contains(body, devOTPNote) {
		t.Errorf("body = %s", body)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dev/otp/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown challenge: status = %d, want 404", rec.Code)
	}
}
