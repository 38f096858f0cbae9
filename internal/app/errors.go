package app

import (
	"errors"
	"fmt"
)

// Lifecycle error kinds. Handlers map each one to a distinct status code and
// machine-readable code so clients can tell them apart.
var (
	ErrNotFound     = errors.New("donation not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("operation not allowed in current donation state")
	ErrCodeMismatch = errors.New("handover code does not match")
	ErrCodeExpired  = errors.New("handover code expired; donation is available again")
	ErrValidation   = errors.New("invalid donation attributes")
	ErrRateLimited  = errors.New("too many attempts")
)

// RateLimitError carries the retry hint for a rejected attempt.
type RateLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s; retry after %ds", ErrRateLimited, e.Scope, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
