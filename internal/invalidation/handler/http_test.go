package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"builder-claims/backend/internal/invalidation"
	"builder-claims/backend/internal/invalidation/domain"
	"builder-claims/backend/internal/invalidation/repository"
	"builder-claims/backend/internal/platform/httpx"
)

func TestList_Polling(t *testing.T) {
	n := invalidation.NewNotifier(repository.NewMemoryRepository())
	ctx := context.Background()
	_, err := n.RecordInvalidation(ctx, "B1", domain.TypeClaim, domain.ClaimPages("B1"))
	require.NoError(t, err)
	_, err = n.RecordInvalidation(ctx, "B2", domain.TypeProfileUpdate, []string{domain.ProfilePage("B2")})
	require.NoError(t, err)
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, n.Flush(flushCtx))

	e := echo.New()
	e.HTTPErrorHandler = httpx.ErrorHandler(zap.NewNop())
	New(n).RegisterRoutes(e.Group("/v1"))

	poll := func(target string) listResponse {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp listResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	first := poll("/v1/invalidations?limit=1")
	require.Len(t, first.Events, 1)
	second := poll("/v1/invalidations?since=" + strconv.FormatInt(first.Next, 10))
	require.Len(t, second.Events, 1)
	assert.NotEqual(t, first.Events[0].BuilderID, second.Events[0].BuilderID)

	empty := poll("/v1/invalidations?since=" + strconv.FormatInt(second.Next, 10))
	assert.Empty(t, empty.Events)
	assert.Equal(t, second.Next, empty.Next)
}

func TestList_BadCursor(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = httpx.ErrorHandler(zap.NewNop())
	New(invalidation.NewNotifier(repository.NewMemoryRepository())).RegisterRoutes(e.Group("/v1"))

	for _, target := range []string{"/v1/invalidations?since=abc", "/v1/invalidations?since=-1"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
