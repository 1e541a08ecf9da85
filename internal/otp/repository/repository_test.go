package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/db/dbtest"
	"builder-claims/backend/internal/otp/domain"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newChallenge(builderID string, method domain.Method, generated time.Time) *domain.Challenge {
	return &domain.Challenge{
		ID: uuid.New().String(), BuilderID: builderID, Contact: "owner@example.com", Method: method,
		CodeHash: "hash", GeneratedAt: generated, ExpiresAt: generated.Add(10 * time.Minute),
	}
}

// exerciseRepository runs the shared contract against any Repository implementation.
func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	first := newChallenge("B1", domain.MethodEmail, t0)
	require.NoError(t, repo.Create(ctx, first))

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.BuilderID, got.BuilderID)
	assert.True(t, got.ExpiresAt.Equal(first.ExpiresAt))

	missing, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := repo.InvalidateActive(ctx, "B1", domain.MethodEmail, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := newChallenge("B1", domain.MethodEmail, t0.Add(time.Minute))
	require.NoError(t, repo.Create(ctx, second))
	phone := newChallenge("B1", domain.MethodPhone, t0.Add(2*time.Minute))
	require.NoError(t, repo.Create(ctx, phone))

	cur, err := repo.GetCurrent(ctx, "B1", domain.MethodEmail)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, second.ID, cur.ID)

	superseded, err := repo.ListSuperseded(ctx, "B1", domain.MethodEmail, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, superseded, 1)
	assert.Equal(t, first.ID, superseded[0].ID)
	superseded, err = repo.ListSuperseded(ctx, "B1", domain.MethodPhone, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, superseded)
	superseded, err = repo.ListSuperseded(ctx, "B1", domain.MethodEmail, first.ExpiresAt)
	require.NoError(t, err)
	assert.Empty(t, superseded)

	cur.Attempts = 2
	verifiedAt := t0.Add(3 * time.Minute)
	cur.Verified = true
	cur.VerifiedAt = &verifiedAt
	require.NoError(t, repo.Update(ctx, cur))
	got, err = repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.Verified)
	require.NotNil(t, got.VerifiedAt)
	assert.True(t, got.VerifiedAt.Equal(verifiedAt))

	assert.ErrorIs(t, repo.Update(ctx, newChallenge("B9", domain.MethodEmail, t0)), ErrNotFound)

	count, err := repo.CountIssuedSince(ctx, "B1", t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	deleted, err := repo.DeleteExpiredBefore(ctx, t0.Add(11*time.Minute+30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	got, err = repo.GetByID(ctx, phone.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func exerciseLogRepository(t *testing.T, repo VerificationLogRepository) {
	ctx := context.Background()
	l := &domain.VerificationLog{
		ID: uuid.New().String(), ChallengeID: "c1", BuilderID: "B1", Method: domain.MethodEmail,
		Contact: "owner@example.com", Attempts: 2, VerifiedAt: t0, IP: "10.0.0.1", UserAgent: "ua",
	}
	require.NoError(t, repo.Create(ctx, l))

	dup := *l
	dup.ID = uuid.New().String()
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrDuplicateLog)

	logs, err := repo.ListByBuilder(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].Attempts)
	assert.Equal(t, "10.0.0.1", logs[0].IP)
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestMemoryLogRepository(t *testing.T) {
	exerciseLogRepository(t, NewMemoryLogRepository())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := newChallenge("B1", domain.MethodEmail, t0)
	require.NoError(t, repo.Create(ctx, c))

	got, _ := repo.GetByID(ctx, c.ID)
	got.Attempts = 99
	again, _ := repo.GetByID(ctx, c.ID)
	assert.Equal(t, 0, again.Attempts)
}

func openPostgres(t *testing.T) *sql.DB {
	t.Helper()
	return dbtest.Open(t)
}

func TestPostgresRepository(t *testing.T) {
	exerciseRepository(t, NewPostgresRepository(openPostgres(t)))
}

func TestPostgresLogRepository(t *testing.T) {
	exerciseLogRepository(t, NewPostgresLogRepository(openPostgres(t)))
}
