// Package errors provides error handling for Sentivane.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrJobNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors for use across Sentivane.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrValidation indicates bad job parameters or an invalid weight
	// configuration (weights not summing to 100).
	ErrValidation = New("validation failed")

	// ErrJobNotFound indicates the requested job does not exist
	ErrJobNotFound = New("job not found")

	// ErrJobStateConflict indicates a control operation (pause, resume,
	// cancel) was invoked on a job whose state does not permit it.
	ErrJobStateConflict = New("job state conflict")

	// ErrRateLimited indicates the token bucket or daily quota rejected a call
	ErrRateLimited = New("rate limited")

	// ErrCircuitOpen indicates the circuit breaker is failing fast
	ErrCircuitOpen = New("circuit open")

	// ErrSourceUnavailable indicates a source client exhausted its retries
	ErrSourceUnavailable = New("source unavailable")

	// ErrPersistence indicates a repository call failed. Always fatal to the
	// current operation; surfaced to the caller unmodified.
	ErrPersistence = New("persistence failure")
)

// IsValidationError checks if an error is or wraps ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsJobNotFoundError checks if an error is or wraps ErrJobNotFound
func IsJobNotFoundError(err error) bool {
	return err != nil && Is(err, ErrJobNotFound)
}

// IsStateConflictError checks if an error is or wraps ErrJobStateConflict
func IsStateConflictError(err error) bool {
	return err != nil && Is(err, ErrJobStateConflict)
}

// IsRateLimitedError checks if an error is or wraps ErrRateLimited
func IsRateLimitedError(err error) bool {
	return err != nil && Is(err, ErrRateLimited)
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewJobNotFoundError creates a not-found error for a job ID
func NewJobNotFoundError(id string) error {
	return Wrapf(ErrJobNotFound, "job %s", id)
}

// NewStateConflictError creates a state-conflict error describing the
// rejected transition.
func NewStateConflictError(id string, current string, op string) error {
	err := Wrapf(ErrJobStateConflict, "cannot %s job %s in state %s", op, id, current)
	return WithHint(err, "pause, resume and cancel are only valid on pending, running or paused jobs")
}
