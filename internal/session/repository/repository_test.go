package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/db/dbtest"
	"builder-claims/backend/internal/session/domain"
)

func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	start := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &domain.Session{ID: "s1", User: "admin1", StartedAt: start}))

	ok, err := repo.AddVisit(ctx, "s1", domain.PageVisit{URL: "/admin/leads", At: start.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.AddVisit(ctx, "s1", domain.PageVisit{URL: "/admin/claims", At: start.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AddVisit(ctx, "missing", domain.PageVisit{URL: "/x", At: start})
	require.NoError(t, err)
	assert.False(t, ok)

	closed, err := repo.Close(ctx, "s1", start.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.True(t, closed)
	closed, err = repo.Close(ctx, "s1", start.Add(2*time.Minute), 2*time.Minute)
	require.NoError(t, err)
	assert.False(t, closed, "second close is a no-op")

	ok, err = repo.AddVisit(ctx, "s1", domain.PageVisit{URL: "/late", At: start.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok, "closed session accepts no visits")

	s, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "admin1", s.User)
	require.Len(t, s.PageVisits, 2)
	assert.Equal(t, "/admin/leads", s.PageVisits[0].URL)
	require.NotNil(t, s.Duration)
	assert.Equal(t, time.Minute, *s.Duration)
	require.NotNil(t, s.EndedAt)
	assert.True(t, s.EndedAt.Equal(start.Add(time.Minute)))

	missing, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestPostgresRepository(t *testing.T) {
	exerciseRepository(t, NewPostgresRepository(dbtest.Open(t)))
}
