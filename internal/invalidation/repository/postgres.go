package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/db"
	"builder-claims/backend/internal/invalidation/domain"
)

// feedLockKey is the transaction-scoped advisory lock taken around every insert. Holding it
// from sequence allocation to commit makes Seq order match commit order, so a reader that has
// seen Seq n can never later observe a committed event with a smaller Seq.
const feedLockKey int64 = 0x6275696c64657273

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an invalidation event repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts e, or reads back the Seq of an existing event with the same ID.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	pages := e.AffectedPages
	if pages == nil {
		pages = []string{}
	}
	raw, err := json.Marshal(pages)
	if err != nil {
		return errors.Wrap(err, "invalidation: encode pages")
	}
	var seq int64
	err = db.InTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, feedLockKey); err != nil {
			return errors.Wrap(err, "invalidation: lock feed")
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO cache_invalidation_events (id, builder_id, type, affected_pages, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
			RETURNING seq`,
			e.ID, e.BuilderID, string(e.Type), string(raw), e.CreatedAt,
		).Scan(&seq)
		return errors.Wrap(err, "invalidation: insert")
	})
	if err != nil {
		return err
	}
	e.Seq = seq
	return nil
}

// ListSince returns up to limit events with Seq > since in ascending Seq order.
func (r *PostgresRepository) ListSince(ctx context.Context, since int64, limit int) ([]*domain.Event, error) {
	q := `SELECT id, seq, builder_id, type, affected_pages, created_at
		FROM cache_invalidation_events WHERE seq > $1 ORDER BY seq`
	args := []any{since}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "invalidation: list")
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			typ   string
			pages []byte
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.BuilderID, &typ, &pages, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "invalidation: scan")
		}
		if err := json.Unmarshal(pages, &e.AffectedPages); err != nil {
			return nil, errors.Wrap(err, "invalidation: decode pages")
		}
		e.Type = domain.Type(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	return out, errors.Wrap(rows.Err(), "invalidation: rows")
}

// DeleteBefore removes events created before cutoff.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_invalidation_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "invalidation: prune")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "invalidation: prune")
}
