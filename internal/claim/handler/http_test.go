package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"builder-claims/backend/internal/apperr"
	"builder-claims/backend/internal/claim/domain"
	"builder-claims/backend/internal/claim/service"
	otpdomain "builder-claims/backend/internal/otp/domain"
	"builder-claims/backend/internal/platform/httpx"
)

type fakeService struct {
	initiated     service.InitiateRequest
	initiateCalls int
	initiateErr   error
	confirmed  service.ConfirmRequest
	confirmErr error
	records    map[string]*domain.ClaimRecord
}

func (f *fakeService) InitiateClaim(_ context.Context, req service.InitiateRequest) (*service.Initiated, error) {
	f.initiated = req
	f.initiateCalls++
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &service.Initiated{
		Claim:     &domain.ClaimRecord{ID: "c1", BuilderID: req.BuilderID, Status: domain.StatusPending},
		Challenge: &otpdomain.Challenge{ID: "ch1", ExpiresAt: time.Date(2026, 6, 1, 9, 10, 0, 0, time.UTC)},
	}, nil
}

func (f *fakeService) ConfirmClaim(_ context.Context, req service.ConfirmRequest) (*domain.ClaimRecord, error) {
	f.confirmed = req
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &domain.ClaimRecord{ID: req.ClaimID, BuilderID: "B1", Status: domain.StatusClaimed, Claimed: true, Contact: "owner@example.com"}, nil
}

func (f *fakeService) GetClaim(_ context.Context, id string) (*domain.ClaimRecord, error) {
	if r, ok := f.records[id]; ok {
		return r, nil
	}
	return nil, apperr.ErrNotFound
}

func serve(t *testing.T, svc Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return serveHandler(t, New(svc), method, path, body)
}

func serveHandler(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Validator = httpx.NewValidator()
	e.HTTPErrorHandler = httpx.ErrorHandler(zap.NewNop())
	h.RegisterRoutes(e.Group("/v1"))

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("User-Agent", "browser/1.0")
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestInitiate(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, svc, http.MethodPost, "/v1/claims",
		`{"builder_id":"B1","contact":"owner@example.com","method":"email","plan_type":"premium","business_location":"Austin"}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp initiateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ClaimID)
	assert.Equal(t, "ch1", resp.ChallengeID)
	assert.Equal(t, "pending", resp.Status)

	assert.Equal(t, otpdomain.MethodEmail, svc.initiated.Method)
	assert.Equal(t, "203.0.113.9", svc.initiated.IPAddress)
	assert.Equal(t, "browser/1.0", svc.initiated.UserAgent)
	assert.Equal(t, "Austin", svc.initiated.BusinessLocation)
}

func TestInitiate_Invalid(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodPost, "/v1/claims", `{"builder_id":"B1","method":"sms"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiate_LimitedPerIPBeforeLookup(t *testing.T) {
	svc := &fakeService{initiateErr: apperr.ErrNotFound}
	h := New(svc).WithInitiateLimiter(httpx.NewIPRateLimiter(0.001, 2), zap.NewNop())
	body := `{"builder_id":"unknown","contact":"owner@example.com","method":"email","plan_type":"premium"}`

	for i := 0; i < 2; i++ {
		rec := serveHandler(t, h, http.MethodPost, "/v1/claims", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := serveHandler(t, h, http.MethodPost, "/v1/claims", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, svc.initiateCalls)

	rec = serveHandler(t, h, http.MethodPost, "/v1/claims/c1/confirm", `{"code":"123456"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "confirm is not charged against the initiate budget")
}

func TestConfirm(t *testing.T) {
	svc := &fakeService{}
	rec := serve(t, svc, http.MethodPost, "/v1/claims/c1/confirm", `{"code":"123456"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "c1", svc.confirmed.ClaimID)
	assert.Equal(t, "123456", svc.confirmed.Code)
	assert.NotContains(t, rec.Body.String(), "owner@example.com")

	var resp ClaimResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "claimed", resp.Status)
	assert.True(t, resp.Claimed)
}

func TestConfirm_ErrorKinds(t *testing.T) {
	for kind, status := range map[*apperr.Error]int{
		apperr.ErrInvalidCode:      http.StatusUnprocessableEntity,
		apperr.ErrExpired:          http.StatusGone,
		apperr.ErrAttemptsExceeded: http.StatusTooManyRequests,
		apperr.ErrNotFound:         http.StatusNotFound,
	} {
		rec := serve(t, &fakeService{confirmErr: kind}, http.MethodPost, "/v1/claims/c1/confirm", `{"code":"123456"}`)
		assert.Equal(t, status, rec.Code, kind.Code)
		assert.Contains(t, rec.Body.String(), kind.Code)
	}
}

func TestConfirm_BadCodeFormat(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodPost, "/v1/claims/c1/confirm", `{"code":"12ab"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet(t *testing.T) {
	svc := &fakeService{records: map[string]*domain.ClaimRecord{
		"c1": {ID: "c1", BuilderID: "B1", Status: domain.StatusVerified, ContactVerified: true},
	}}
	rec := serve(t, svc, http.MethodGet, "/v1/claims/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"verified"`)

	rec = serve(t, svc, http.MethodGet, "/v1/claims/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
