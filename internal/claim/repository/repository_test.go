package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/claim/domain"
	"builder-claims/backend/internal/db/dbtest"
)

var t0 = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func newRecord(builderID string, created time.Time) *domain.ClaimRecord {
	return &domain.ClaimRecord{
		ID: uuid.New().String(), BuilderID: builderID, ChallengeID: uuid.New().String(),
		Status: domain.StatusPending, Contact: "owner@example.com", VerificationMethod: "email",
		PlanType: "basic", BusinessLocation: "Pune", IPAddress: "10.0.0.1", UserAgent: "ua",
		Version: 1, CreatedAt: created, UpdatedAt: created,
	}
}

func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	older := newRecord("B1", t0)
	newer := newRecord("B1", t0.Add(time.Minute))
	other := newRecord("B2", t0.Add(30*time.Second))
	for _, c := range []*domain.ClaimRecord{newer, older, other} {
		require.NoError(t, repo.Create(ctx, c))
	}

	got, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Pune", got.BusinessLocation)
	assert.Equal(t, int64(1), got.Version)

	missing, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	pending, err := repo.ListPendingByBuilder(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID)

	all, err := repo.ListPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID)
	assert.Equal(t, other.ID, all[1].ID)

	// verify then claim with optimistic versions
	require.NoError(t, got.Transition(domain.StatusVerified, t0.Add(2*time.Minute)))
	require.NoError(t, repo.Update(ctx, got, domain.StatusPending))
	assert.Equal(t, int64(2), got.Version)

	stale := got.Clone()
	stale.Version = 1
	assert.ErrorIs(t, repo.Update(ctx, stale, domain.StatusPending), ErrConflict)
	assert.ErrorIs(t, repo.Update(ctx, got.Clone(), domain.StatusPending), ErrConflict, "wrong expected status")

	require.NoError(t, got.Transition(domain.StatusClaimed, t0.Add(3*time.Minute)))
	require.NoError(t, repo.Update(ctx, got, domain.StatusVerified))

	claimed, err := repo.GetClaimedByBuilder(ctx, "B1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, older.ID, claimed.ID)
	assert.True(t, claimed.Claimed)
	require.NotNil(t, claimed.ClaimedAt)
	assert.True(t, claimed.ContactVerified)

	none, err := repo.GetClaimedByBuilder(ctx, "B2")
	require.NoError(t, err)
	assert.Nil(t, none)

	// a second claimed record for B1 is rejected
	second, _ := repo.GetByID(ctx, newer.ID)
	require.NoError(t, second.Transition(domain.StatusVerified, t0.Add(4*time.Minute)))
	require.NoError(t, repo.Update(ctx, second, domain.StatusPending))
	require.NoError(t, second.Transition(domain.StatusClaimed, t0.Add(5*time.Minute)))
	assert.ErrorIs(t, repo.Update(ctx, second, domain.StatusVerified), ErrConflict)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestPostgresRepository(t *testing.T) {
	exerciseRepository(t, NewPostgresRepository(dbtest.Open(t)))
}
