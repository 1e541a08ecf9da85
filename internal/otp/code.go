// Package otp generates one-time verification codes. Challenge lifecycle lives in otp/service.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeDigits is the length of a verification code.
const CodeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly distributed 6-digit numeric code (e.g. "042917").
// Uses crypto/rand for randomness.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}
