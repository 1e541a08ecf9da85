package domain

import "time"

// Type names the change that made pages stale.
type Type string

const (
	TypeClaim         Type = "claim"
	TypeProfileUpdate Type = "profile-update"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	return t == TypeClaim || t == TypeProfileUpdate
}

// Page identifiers regenerated after a builder's public data changes.
const (
	PageDirectory   = "/directory"
	PageSearchIndex = "search-index"
)

// ProfilePage returns the public profile path of a builder.
func ProfilePage(builderID string) string {
	return "/builders/" + builderID
}

// ClaimPages returns the pages affected by a claim, in regeneration order.
func ClaimPages(builderID string) []string {
	return []string{ProfilePage(builderID), PageDirectory, PageSearchIndex}
}

// Event records which pages must be regenerated. Seq is assigned by the store.
type Event struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	BuilderID     string    `json:"builderId"`
	Type          Type      `json:"type"`
	AffectedPages []string  `json:"affectedPages"`
	CreatedAt     time.Time `json:"timestamp"`
}
