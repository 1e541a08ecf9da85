package repository

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"builder-claims/backend/internal/claim/domain"
	"builder-claims/backend/internal/db"
)

const claimColumns = `id, builder_id, challenge_id, status, contact, method, plan_type, business_location, ip, user_agent,
	claimed, contact_verified, gmb_imported, verification_timestamp, claimed_at, version, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a claim record repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*domain.ClaimRecord, error) {
	var (
		c                     domain.ClaimRecord
		status                string
		verifiedAt, claimedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.BuilderID, &c.ChallengeID, &status, &c.Contact, &c.VerificationMethod, &c.PlanType,
		&c.BusinessLocation, &c.IPAddress, &c.UserAgent, &c.Claimed, &c.ContactVerified, &c.GMBImported,
		&verifiedAt, &claimedAt, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.Status(status)
	c.VerificationTimestamp = db.TimePtr(verifiedAt)
	c.ClaimedAt = db.TimePtr(claimedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Create persists the record. The record must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.ClaimRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO claim_records (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.BuilderID, c.ChallengeID, string(c.Status), c.Contact, c.VerificationMethod, c.PlanType,
		c.BusinessLocation, c.IPAddress, c.UserAgent, c.Claimed, c.ContactVerified, c.GMBImported,
		db.NullTime(c.VerificationTimestamp), db.NullTime(c.ClaimedAt), c.Version, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return errors.Wrap(err, "claim: insert")
}

// GetByID returns the record for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.ClaimRecord, error) {
	c, err := scanClaim(r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claim_records WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, errors.Wrap(err, "claim: get")
}

// GetClaimedByBuilder returns the builder's claimed record, or nil.
func (r *PostgresRepository) GetClaimedByBuilder(ctx context.Context, builderID string) (*domain.ClaimRecord, error) {
	c, err := scanClaim(r.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claim_records WHERE builder_id = $1 AND status = 'claimed'`, builderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, errors.Wrap(err, "claim: get claimed")
}

func (r *PostgresRepository) list(ctx context.Context, q string, args ...any) ([]*domain.ClaimRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "claim: list")
	}
	defer rows.Close()
	var out []*domain.ClaimRecord
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, errors.Wrap(err, "claim: scan")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "claim: rows")
}

// ListPendingByBuilder returns the builder's pending records, oldest first.
func (r *PostgresRepository) ListPendingByBuilder(ctx context.Context, builderID string) ([]*domain.ClaimRecord, error) {
	return r.list(ctx, `SELECT `+claimColumns+` FROM claim_records
		WHERE builder_id = $1 AND status = 'pending' ORDER BY created_at, id`, builderID)
}

// ListPending returns up to limit pending records, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context, limit int) ([]*domain.ClaimRecord, error) {
	if limit <= 0 {
		return r.list(ctx, `SELECT `+claimColumns+` FROM claim_records WHERE status = 'pending' ORDER BY created_at, id`)
	}
	return r.list(ctx, `SELECT `+claimColumns+` FROM claim_records
		WHERE status = 'pending' ORDER BY created_at, id LIMIT $1`, limit)
}

// Update stores c if the stored record still has status expected and version c.Version.
func (r *PostgresRepository) Update(ctx context.Context, c *domain.ClaimRecord, expected domain.Status) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE claim_records SET
		    status = $4, challenge_id = $5, plan_type = $6, claimed = $7, contact_verified = $8,
		    gmb_imported = $9, verification_timestamp = $10, claimed_at = $11, updated_at = $12,
		    version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3`,
		c.ID, string(expected), c.Version, string(c.Status), c.ChallengeID, c.PlanType, c.Claimed,
		c.ContactVerified, c.GMBImported, db.NullTime(c.VerificationTimestamp), db.NullTime(c.ClaimedAt), c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return errors.Wrap(err, "claim: update")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	c.Version++
	return nil
}
