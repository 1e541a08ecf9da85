// seed upserts sample builder profiles for local testing. Rerunning resets their claim state.
package main

import (
	"context"
	"log"

	"builder-claims/backend/internal/config"
	"builder-claims/backend/internal/db"
	"builder-claims/backend/internal/profile/domain"
	"builder-claims/backend/internal/profile/repository"
)

var sampleProfiles = []*domain.Profile{
	{
		ID:          "builder-dev-001",
		Name:        "Skyline Constructions",
		GMBImported: true,
		PublicFields: map[string]string{
			"phone":   "+91 98450 00001",
			"website": "https://skyline.example.com",
			"city":    "Bengaluru",
		},
	},
	{
		ID:          "builder-dev-002",
		Name:        "Greenfield Homes",
		GMBImported: true,
		PublicFields: map[string]string{
			"phone": "+91 98450 00002",
			"city":  "Pune",
		},
	},
	{
		ID:   "builder-dev-003",
		Name: "Riverside Developers",
		PublicFields: map[string]string{
			"email": "hello@riverside.example.com",
			"city":  "Chennai",
		},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	repo := repository.NewPostgresRepository(conn)
	for _, p := range sampleProfiles {
		if err := repo.Upsert(ctx, p); err != nil {
			log.Fatalf("upsert %s: %v", p.ID, err)
		}
		log.Printf("seed: upserted %s (%s)", p.ID, p.Name)
	}
}
