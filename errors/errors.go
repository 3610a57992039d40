// Package errors defines the error taxonomy shared by the storage engine.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not-stored errors. Recoverable: callers should check existence first
	// or handle them explicitly.
	ErrNotStored         = errors.New("not stored")
	ErrSeriesNotStored   = errors.New("time series not stored")
	ErrMetadataNotStored = errors.New("time series metadata not stored")

	// Operation-not-allowed errors. Caller logic errors, always surfaced.
	ErrOperationNotAllowed = errors.New("operation not allowed")
	ErrReadOnly            = errors.New("cannot modify time series in read-only mode")
	ErrAmbiguousMatch      = errors.New("inputs match more than one time series")
	ErrInvalidRange        = errors.New("requested range is not satisfiable")

	// Validation errors.
	ErrInvalidSeries = errors.New("invalid time series definition")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Unimplemented: unsupported subtype or storage kind. Surfaced
	// immediately, never silently ignored.
	ErrUnimplemented = errors.New("unimplemented")

	// Internal consistency: index/backend drift. Fatal, indicates a bug.
	ErrConsistency = errors.New("internal consistency error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotStored returns true if err is a not-stored error.
func IsNotStored(err error) bool {
	return errors.Is(err, ErrNotStored) ||
		errors.Is(err, ErrSeriesNotStored) ||
		errors.Is(err, ErrMetadataNotStored)
}

// IsNotAllowed returns true if err is an operation-not-allowed error.
func IsNotAllowed(err error) bool {
	return errors.Is(err, ErrOperationNotAllowed) ||
		errors.Is(err, ErrReadOnly) ||
		errors.Is(err, ErrAmbiguousMatch) ||
		errors.Is(err, ErrInvalidRange)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSeries) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsUnimplemented returns true if err reports an unsupported subtype or
// storage kind.
func IsUnimplemented(err error) bool {
	return errors.Is(err, ErrUnimplemented)
}

// IsConsistency returns true if err is an internal-consistency error.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewSeriesNotStored creates a not-stored error for a physical time series id.
func NewSeriesNotStored(id int64) error {
	return fmt.Errorf("time series id=%d: %w", id, ErrSeriesNotStored)
}

// NewUnimplementedType creates an unimplemented error for an unsupported
// time-series or metadata subtype.
func NewUnimplementedType(what string, value interface{}) error {
	return fmt.Errorf("%s %T: %w", what, value, ErrUnimplemented)
}

// NewRowCountMismatch creates a consistency error for a range read that
// returned a row count different from the computed required length.
func NewRowCountMismatch(id int64, got, want int) error {
	return fmt.Errorf("time series id=%d returned %d rows, required %d: %w",
		id, got, want, ErrConsistency)
}
