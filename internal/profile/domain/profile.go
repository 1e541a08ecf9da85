package domain

import "time"

// Profile is the part of a builder listing the claim engine reads and writes.
type Profile struct {
	ID          string
	Name        string
	GMBImported bool
	// PublicFields are the listing fields shown before a claim (e.g. phone, website).
	PublicFields map[string]string
	Claimed      bool
	PlanType     string
	ClaimedAt    *time.Time
}
