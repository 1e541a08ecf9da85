package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/audit"
	audithandler "builder-claims/backend/internal/audit/handler"
	auditrepo "builder-claims/backend/internal/audit/repository"
	"builder-claims/backend/internal/health"
	"builder-claims/backend/internal/otp/notifier"
	otphandler "builder-claims/backend/internal/otp/handler"
	"builder-claims/backend/internal/platform/httpx"
)

func serve(t *testing.T, d Deps, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewHTTPServer(d)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestNewHTTPServer_HealthRoutes(t *testing.T) {
	checker := health.NewChecker(nil).Add("postgres", func(context.Context) error { return errors.New("down") })
	d := Deps{Health: checker}

	assert.Equal(t, http.StatusOK, serve(t, d, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, d, http.MethodGet, "/readyz").Code)
}

func TestNewHTTPServer_DevOTPMountedOnlyWhenSet(t *testing.T) {
	store := notifier.NewDevStore()
	require.NoError(t, store.Send(context.Background(), notifier.Delivery{
		ChallengeID: "ch-1", Code: "123456", ExpiresAt: time.Now().Add(time.Hour),
	}))

	rec := serve(t, Deps{DevOTP: otphandler.NewDevHandler(store)}, http.MethodGet, "/dev/otp/ch-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "123456")

	rec = serve(t, Deps{}, http.MethodGet, "/dev/otp/ch-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewHTTPServer_AdminAuditRoute(t *testing.T) {
	logger := audit.NewLogger(auditrepo.NewMemoryRepository())
	_, err := logger.AddLog(context.Background(), audit.Entry{User: "B1", Action: "claim_finalized", Resource: "claim/c1"})
	require.NoError(t, err)

	rec := serve(t, Deps{Audit: audithandler.New(logger)}, http.MethodGet, "/v1/admin/audit-logs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claim_finalized")
}

func TestNewHTTPServer_RateLimited(t *testing.T) {
	e := NewHTTPServer(Deps{
		Health:      health.NewChecker(nil),
		RateLimiter: httpx.NewIPRateLimiter(0.001, 1),
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
