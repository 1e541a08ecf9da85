package security

import (
	"golang.org/x/crypto/bcrypt"
)

// CodeHasher hashes one-time verification codes with bcrypt so stored challenges never
// hold the plaintext code. Callers must not log codes.
type CodeHasher struct {
	Cost int
}

// NewCodeHasher returns a CodeHasher with the given bcrypt cost, clamped to bcrypt's bounds.
// Codes are short-lived, so a cost near bcrypt.MinCost keeps verification cheap.
func NewCodeHasher(cost int) *CodeHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &CodeHasher{Cost: cost}
}

// Hash returns the bcrypt hash of code for storage.
func (h *CodeHasher) Hash(code string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(code), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Match reports whether code matches the stored hash. A malformed hash never matches.
func (h *CodeHasher) Match(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
