package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/db"
	"builder-claims/backend/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_sessions (id, user_id, started_at) VALUES ($1, $2, $3)`,
		s.ID, s.User, s.StartedAt)
	return errors.Wrap(err, "session: insert")
}

// GetByID returns the session with its visits, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var (
		s        domain.Session
		endedAt  sql.NullTime
		duration sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, started_at, ended_at, duration_ns FROM admin_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.User, &s.StartedAt, &endedAt, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "session: get")
	}
	s.StartedAt = s.StartedAt.UTC()
	s.EndedAt = db.TimePtr(endedAt)
	if duration.Valid {
		d := time.Duration(duration.Int64)
		s.Duration = &d
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT url, visited_at FROM session_page_visits WHERE session_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, errors.Wrap(err, "session: list visits")
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.PageVisit
		if err := rows.Scan(&v.URL, &v.At); err != nil {
			return nil, errors.Wrap(err, "session: scan visit")
		}
		v.At = v.At.UTC()
		s.PageVisits = append(s.PageVisits, v)
	}
	return &s, errors.Wrap(rows.Err(), "session: visit rows")
}

// AddVisit appends v when the session is open. The open check and insert are one statement.
func (r *PostgresRepository) AddVisit(ctx context.Context, sessionID string, v domain.PageVisit) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO session_page_visits (session_id, url, visited_at)
		SELECT id, $2, $3 FROM admin_sessions WHERE id = $1 AND ended_at IS NULL`,
		sessionID, v.URL, v.At)
	if err != nil {
		return false, errors.Wrap(err, "session: add visit")
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "session: add visit")
}

// Close ends the session when it is still open.
func (r *PostgresRepository) Close(ctx context.Context, sessionID string, endedAt time.Time, d time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE admin_sessions SET ended_at = $2, duration_ns = $3
		WHERE id = $1 AND ended_at IS NULL`,
		sessionID, endedAt, int64(d))
	if err != nil {
		return false, errors.Wrap(err, "session: close")
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "session: close")
}
