package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"builder-claims/backend/internal/db"
	"builder-claims/backend/internal/otp/domain"
)

const challengeColumns = `id, claim_id, builder_id, contact, method, code_hash, generated_at, expires_at,
	attempts, verified, verified_at, invalidated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an OTP challenge repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*domain.Challenge, error) {
	var (
		c                       domain.Challenge
		method                  string
		verifiedAt, invalidated sql.NullTime
	)
	err := row.Scan(&c.ID, &c.ClaimID, &c.BuilderID, &c.Contact, &method, &c.CodeHash, &c.GeneratedAt, &c.ExpiresAt,
		&c.Attempts, &c.Verified, &verifiedAt, &invalidated)
	if err != nil {
		return nil, err
	}
	c.Method = domain.Method(method)
	c.GeneratedAt = c.GeneratedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.VerifiedAt = db.TimePtr(verifiedAt)
	c.InvalidatedAt = db.TimePtr(invalidated)
	return &c, nil
}

// Create persists the challenge. The challenge must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_challenges (`+challengeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.ClaimID, c.BuilderID, c.Contact, string(c.Method), c.CodeHash, c.GeneratedAt, c.ExpiresAt,
		c.Attempts, c.Verified, db.NullTime(c.VerifiedAt), db.NullTime(c.InvalidatedAt),
	)
	return errors.Wrap(err, "otp: insert challenge")
}

// GetByID returns the challenge for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	c, err := scanChallenge(r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM otp_challenges WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, errors.Wrap(err, "otp: get challenge")
}

// GetCurrent returns the newest non-invalidated challenge for the pair, or nil.
func (r *PostgresRepository) GetCurrent(ctx context.Context, builderID string, method domain.Method) (*domain.Challenge, error) {
	c, err := scanChallenge(r.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges
		WHERE builder_id = $1 AND method = $2 AND invalidated_at IS NULL
		ORDER BY generated_at DESC LIMIT 1`, builderID, string(method)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, errors.Wrap(err, "otp: get current challenge")
}

// Update persists attempts, verification and invalidation state.
func (r *PostgresRepository) Update(ctx context.Context, c *domain.Challenge) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET attempts = $2, verified = $3, verified_at = $4, invalidated_at = $5
		WHERE id = $1`,
		c.ID, c.Attempts, c.Verified, db.NullTime(c.VerifiedAt), db.NullTime(c.InvalidatedAt))
	if err != nil {
		return errors.Wrap(err, "otp: update challenge")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSuperseded returns the invalidated, unverified challenges for the pair that expire after now.
func (r *PostgresRepository) ListSuperseded(ctx context.Context, builderID string, method domain.Method, now time.Time) ([]*domain.Challenge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM otp_challenges
		WHERE builder_id = $1 AND method = $2 AND invalidated_at IS NOT NULL
		  AND NOT verified AND expires_at > $3
		ORDER BY generated_at DESC`, builderID, string(method), now)
	if err != nil {
		return nil, errors.Wrap(err, "otp: list superseded")
	}
	defer rows.Close()
	var out []*domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, errors.Wrap(err, "otp: scan superseded")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "otp: list superseded")
}

// InvalidateActive invalidates every non-invalidated challenge for the pair.
func (r *PostgresRepository) InvalidateActive(ctx context.Context, builderID string, method domain.Method, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET invalidated_at = $3
		WHERE builder_id = $1 AND method = $2 AND invalidated_at IS NULL`,
		builderID, string(method), at)
	if err != nil {
		return 0, errors.Wrap(err, "otp: invalidate active")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "otp: invalidate active")
}

// CountIssuedSince counts challenges generated for builderID at or after since.
func (r *PostgresRepository) CountIssuedSince(ctx context.Context, builderID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM otp_challenges WHERE builder_id = $1 AND generated_at >= $2`,
		builderID, since).Scan(&n)
	return n, errors.Wrap(err, "otp: count issued")
}

// DeleteExpiredBefore removes challenges whose expiry is before cutoff.
func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "otp: purge challenges")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "otp: purge challenges")
}

// PostgresLogRepository stores verification logs in verification_logs.
type PostgresLogRepository struct {
	db *sql.DB
}

// NewPostgresLogRepository returns a verification log repository that uses the given db.
func NewPostgresLogRepository(db *sql.DB) *PostgresLogRepository {
	return &PostgresLogRepository{db: db}
}

// Create inserts l. A second log for the same challenge returns ErrDuplicateLog.
func (r *PostgresLogRepository) Create(ctx context.Context, l *domain.VerificationLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_logs (id, challenge_id, builder_id, contact, method, attempts, verified_at, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.ChallengeID, l.BuilderID, l.Contact, string(l.Method), l.Attempts, l.VerifiedAt, l.IP, l.UserAgent)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateLog
	}
	return errors.Wrap(err, "otp: insert verification log")
}

// ListByBuilder returns the builder's logs, newest first.
func (r *PostgresLogRepository) ListByBuilder(ctx context.Context, builderID string) ([]*domain.VerificationLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, challenge_id, builder_id, contact, method, attempts, verified_at, ip, user_agent
		FROM verification_logs WHERE builder_id = $1 ORDER BY verified_at DESC`, builderID)
	if err != nil {
		return nil, errors.Wrap(err, "otp: list verification logs")
	}
	defer rows.Close()
	var out []*domain.VerificationLog
	for rows.Next() {
		var (
			l      domain.VerificationLog
			method string
		)
		if err := rows.Scan(&l.ID, &l.ChallengeID, &l.BuilderID, &l.Contact, &method, &l.Attempts, &l.VerifiedAt, &l.IP, &l.UserAgent); err != nil {
			return nil, errors.Wrap(err, "otp: scan verification log")
		}
		l.Method = domain.Method(method)
		l.VerifiedAt = l.VerifiedAt.UTC()
		out = append(out, &l)
	}
	return out, errors.Wrap(rows.Err(), "otp: verification log rows")
}
