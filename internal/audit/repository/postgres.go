package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"builder-claims/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the audit log and reads back its sequence number. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource, details, severity, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		a.ID, a.User, a.Action, a.Resource, a.Details, string(a.Severity), a.IP, a.Timestamp,
	).Scan(&a.Seq)
	return errors.Wrap(err, "audit: insert")
}

// List returns entries matching f ordered by created_at then seq, newest first.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.User != "" {
		add("user_id = ?", f.User)
	}
	if f.Resource != "" {
		add("resource = ?", f.Resource)
	}
	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}
	if !f.From.IsZero() {
		add("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= ?", f.To)
	}

	q := `SELECT id, seq, user_id, action, resource, details, severity, ip, created_at FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, seq DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "audit: list")
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a   domain.AuditLog
			sev string
		)
		if err := rows.Scan(&a.ID, &a.Seq, &a.User, &a.Action, &a.Resource, &a.Details, &sev, &a.IP, &a.Timestamp); err != nil {
			return nil, errors.Wrap(err, "audit: scan")
		}
		a.Severity = domain.Severity(sev)
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, &a)
	}
	return out, errors.Wrap(rows.Err(), "audit: rows")
}
