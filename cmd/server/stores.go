package main

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	auditrepo "builder-claims/backend/internal/audit/repository"
	claimrepo "builder-claims/backend/internal/claim/repository"
	"builder-claims/backend/internal/config"
	"builder-claims/backend/internal/db"
	invalidationrepo "builder-claims/backend/internal/invalidation/repository"
	otprepo "builder-claims/backend/internal/otp/repository"
	profilerepo "builder-claims/backend/internal/profile/repository"
	sessionrepo "builder-claims/backend/internal/session/repository"
)

// stores is the full set of repositories for one backend.
type stores struct {
	conn          *sql.DB // nil for the memory backend
	challenges    otprepo.Repository
	verifications otprepo.VerificationLogRepository
	claims        claimrepo.Repository
	profiles      profilerepo.Repository
	audit         auditrepo.Repository
	invalidations invalidationrepo.Repository
	sessions      sessionrepo.Repository
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend != config.StorePostgres {
		return &stores{
			challenges:    otprepo.NewMemoryRepository(),
			verifications: otprepo.NewMemoryLogRepository(),
			claims:        claimrepo.NewMemoryRepository(),
			profiles:      profilerepo.NewMemoryRepository(),
			audit:         auditrepo.NewMemoryRepository(),
			invalidations: invalidationrepo.NewMemoryRepository(),
			sessions:      sessionrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	return &stores{
		conn:          conn,
		challenges:    otprepo.NewPostgresRepository(conn),
		verifications: otprepo.NewPostgresLogRepository(conn),
		claims:        claimrepo.NewPostgresRepository(conn),
		profiles:      profilerepo.NewPostgresRepository(conn),
		audit:         auditrepo.NewPostgresRepository(conn),
		invalidations: invalidationrepo.NewPostgresRepository(conn),
		sessions:      sessionrepo.NewPostgresRepository(conn),
	}, nil
}

func (s *stores) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
