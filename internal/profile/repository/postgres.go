package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/db"
	"builder-claims/backend/internal/profile/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a profile repository backed by builder_profiles.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetProfile returns the profile for id, or nil if it does not exist.
func (r *PostgresRepository) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var (
		p         domain.Profile
		fields    []byte
		claimedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, gmb_imported, public_fields, claimed, plan_type, claimed_at
		FROM builder_profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.GMBImported, &fields, &p.Claimed, &p.PlanType, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "profile: get")
	}
	if err := json.Unmarshal(fields, &p.PublicFields); err != nil {
		return nil, errors.Wrap(err, "profile: decode public fields")
	}
	p.ClaimedAt = db.TimePtr(claimedAt)
	return &p, nil
}

// ApplyClaim marks the profile claimed. An already claimed profile is left unchanged.
func (r *PostgresRepository) ApplyClaim(ctx context.Context, id, planType string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE builder_profiles
		SET claimed = TRUE,
		    plan_type = CASE WHEN claimed THEN plan_type ELSE $2 END,
		    claimed_at = COALESCE(claimed_at, $3),
		    updated_at = $3
		WHERE id = $1`, id, planType, at)
	if err != nil {
		return errors.Wrap(err, "profile: apply claim")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert creates or replaces a profile.
func (r *PostgresRepository) Upsert(ctx context.Context, p *domain.Profile) error {
	fields := p.PublicFields
	if fields == nil {
		fields = map[string]string{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "profile: encode public fields")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO builder_profiles (id, name, gmb_imported, public_fields, claimed, plan_type, claimed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name,
		    gmb_imported = EXCLUDED.gmb_imported,
		    public_fields = EXCLUDED.public_fields,
		    claimed = EXCLUDED.claimed,
		    plan_type = EXCLUDED.plan_type,
		    claimed_at = EXCLUDED.claimed_at,
		    updated_at = now()`,
		p.ID, p.Name, p.GMBImported, string(raw), p.Claimed, p.PlanType, db.NullTime(p.ClaimedAt))
	return errors.Wrap(err, "profile: upsert")
}
