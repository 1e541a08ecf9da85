// Package dbtest gives repository tests a migrated, empty Postgres database.
// Tests are skipped unless TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"builder-claims/backend/internal/db"
	"builder-claims/backend/internal/db/migrate"
)

var tables = []string{
	"session_page_visits",
	"admin_sessions",
	"cache_invalidation_events",
	"audit_logs",
	"claim_records",
	"verification_logs",
	"otp_challenges",
	"builder_profiles",
}

// Open migrates the database named by TEST_DATABASE_URL, truncates every table and
// returns a pool closed at test cleanup.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres test")
	}
	require.NoError(t, migrate.Run(dsn, migrate.Up))

	pool, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	for _, table := range tables {
		_, err := pool.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE")
		require.NoError(t, err)
	}
	return pool
}
