package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/db/dbtest"
	"builder-claims/backend/internal/profile/domain"
)

func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	at := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, &domain.Profile{
		ID: "B1", Name: "Acme Builders", GMBImported: true,
		PublicFields: map[string]string{"city": "Pune"},
	}))

	p, err := repo.GetProfile(ctx, "B1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Acme Builders", p.Name)
	assert.True(t, p.GMBImported)
	assert.Equal(t, "Pune", p.PublicFields["city"])
	assert.False(t, p.Claimed)

	missing, err := repo.GetProfile(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.ApplyClaim(ctx, "B1", "premium", at))
	require.NoError(t, repo.ApplyClaim(ctx, "B1", "basic", at.Add(time.Hour)))
	p, err = repo.GetProfile(ctx, "B1")
	require.NoError(t, err)
	assert.True(t, p.Claimed)
	assert.Equal(t, "premium", p.PlanType)
	require.NotNil(t, p.ClaimedAt)
	assert.True(t, p.ClaimedAt.Equal(at))

	assert.ErrorIs(t, repo.ApplyClaim(ctx, "nobody", "basic", at), ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestPostgresRepository(t *testing.T) {
	exerciseRepository(t, NewPostgresRepository(dbtest.Open(t)))
}
