package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a claim record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusClaimed  Status = "claimed"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// ErrIllegalTransition is returned when a status change is not allowed.
var ErrIllegalTransition = errors.New("claim: illegal status transition")

var transitions = map[Status][]Status{
	StatusPending:  {StatusVerified, StatusExpired, StatusRejected},
	StatusVerified: {StatusClaimed, StatusRejected},
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusClaimed || s == StatusExpired || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusClaimed, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ClaimRecord is one attempt by a builder to claim their profile.
type ClaimRecord struct {
	ID                    string
	BuilderID             string
	ChallengeID           string
	Status                Status
	Contact               string
	VerificationMethod    string
	PlanType              string
	BusinessLocation      string
	IPAddress             string
	UserAgent             string
	GMBImported           bool
	ContactVerified       bool
	Claimed               bool
	VerificationTimestamp *time.Time
	ClaimedAt             *time.Time
	// Version increases on every persisted change.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the record to status to at time at, setting the fields that state implies.
// Illegal transitions leave the record unchanged.
func (c *ClaimRecord) Transition(to Status, at time.Time) error {
	if !CanTransition(c.Status, to) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", c.Status, to)
	}
	t := at
	switch to {
	case StatusVerified:
		c.ContactVerified = true
		c.VerificationTimestamp = &t
	case StatusClaimed:
		c.Claimed = true
		c.ClaimedAt = &t
	}
	c.Status = to
	c.UpdatedAt = at
	return nil
}

// Clone returns a deep copy of c.
func (c *ClaimRecord) Clone() *ClaimRecord {
	cp := *c
	if c.VerificationTimestamp != nil {
		t := *c.VerificationTimestamp
		cp.VerificationTimestamp = &t
	}
	if c.ClaimedAt != nil {
		t := *c.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}
