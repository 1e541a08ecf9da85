// Package apperr defines the error kinds surfaced by the claim engine and their HTTP mapping.
package apperr

import (
	"net/http"

	"github.com/pkg/errors"
)

// Error is a stable, caller-visible error kind. Compare with errors.Is against the package values.
type Error struct {
	// Code is the machine-readable identifier returned to clients (e.g. "OTP_EXPIRED").
	Code string
	// Status is the HTTP status the kind maps to.
	Status int
	// Message is safe to show to end users.
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrNotFound         = &Error{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: "no active verification found"}
	ErrExpired          = &Error{Code: "OTP_EXPIRED", Status: http.StatusGone, Message: "verification code has expired; request a new one"}
	ErrAttemptsExceeded = &Error{Code: "OTP_ATTEMPTS_EXCEEDED", Status: http.StatusTooManyRequests, Message: "too many incorrect attempts; request a new code"}
	ErrInvalidCode      = &Error{Code: "OTP_INVALID", Status: http.StatusUnprocessableEntity, Message: "verification code is incorrect"}
	ErrAlreadyVerified  = &Error{Code: "OTP_ALREADY_VERIFIED", Status: http.StatusConflict, Message: "verification code was already used"}
	ErrAlreadyClaimed   = &Error{Code: "ALREADY_CLAIMED", Status: http.StatusConflict, Message: "this profile has already been claimed"}
	ErrRateLimited      = &Error{Code: "RATE_LIMITED", Status: http.StatusTooManyRequests, Message: "too many verification requests; try again later"}
	ErrDeliveryFailed   = &Error{Code: "DELIVERY_FAILED", Status: http.StatusBadGateway, Message: "could not deliver the verification code; request a new one"}
	ErrStoreUnavailable = &Error{Code: "STORE_UNAVAILABLE", Status: http.StatusServiceUnavailable, Message: "service temporarily unavailable; please retry"}
	ErrIneligible       = &Error{Code: "CLAIM_INELIGIBLE", Status: http.StatusForbidden, Message: "this profile cannot be claimed with the requested method"}
	ErrInvalidArgument  = &Error{Code: "INVALID_ARGUMENT", Status: http.StatusBadRequest, Message: "request is missing or has invalid fields"}
)

// causeError attaches an underlying cause to a kind without exposing the cause to clients.
type causeError struct {
	kind  *Error
	cause error
}

func (e *causeError) Error() string { return e.kind.Message + ": " + e.cause.Error() }

func (e *causeError) Unwrap() []error { return []error{e.kind, e.cause} }

// With returns an error that matches kind under errors.Is and keeps cause for logging.
// A nil cause returns kind itself.
func With(kind *Error, cause error) error {
	if cause == nil {
		return kind
	}
	return errors.WithStack(&causeError{kind: kind, cause: cause})
}

// Unavailable wraps a persistence failure as ErrStoreUnavailable.
func Unavailable(cause error) error {
	return With(ErrStoreUnavailable, cause)
}

// Invalid returns ErrInvalidArgument annotated with a field-level reason.
func Invalid(reason string) error {
	return With(ErrInvalidArgument, errors.New(reason))
}

// Kind returns the kind carried by err, or nil if err carries none.
func Kind(err error) *Error {
	var k *Error
	if errors.As(err, &k) {
		return k
	}
	return nil
}

// Is reports whether err carries the given kind.
func Is(err error, kind *Error) bool {
	return errors.Is(err, kind)
}
