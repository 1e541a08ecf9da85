package domain

import "time"

// Method is the channel a verification code is delivered over.
type Method string

const (
	MethodEmail Method = "email"
	MethodPhone Method = "phone"
)

// Valid reports whether m is a supported delivery method.
func (m Method) Valid() bool {
	return m == MethodEmail || m == MethodPhone
}

// Challenge is a one-time code issued to a builder's contact (stored in otp_challenges).
// Only the bcrypt hash of the code is kept.
type Challenge struct {
	ID          string
	ClaimID     string
	BuilderID   string
	Contact     string
	Method      Method
	CodeHash    string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	Attempts    int
	Verified    bool
	VerifiedAt  *time.Time
	// InvalidatedAt is set when the challenge is superseded, expires on verify, or runs out of attempts.
	InvalidatedAt *time.Time
}

// Expired reports whether now is past the challenge expiry.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Invalidated reports whether the challenge can no longer be verified regardless of expiry.
func (c *Challenge) Invalidated() bool {
	return c.InvalidatedAt != nil
}

// Active reports whether the challenge still accepts codes.
func (c *Challenge) Active(now time.Time) bool {
	return !c.Verified && !c.Invalidated() && !c.Expired(now)
}

// Invalidate marks the challenge unusable as of at. Already-invalidated challenges keep their first timestamp.
func (c *Challenge) Invalidate(at time.Time) {
	if c.InvalidatedAt == nil {
		t := at
		c.InvalidatedAt = &t
	}
}

// VerificationLog is the immutable record of a successful verification.
type VerificationLog struct {
	ID          string
	ChallengeID string
	BuilderID   string
	Method      Method
	Contact     string
	// Attempts is the number of attempts consumed including the successful one.
	Attempts   int
	VerifiedAt time.Time
	IP         string
	UserAgent  string
}
