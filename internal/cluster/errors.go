package cluster

import (
	"errors"
	"fmt"
)

// Error represents an error detected while clustering records.
//
// Cluster errors include:
//   - Validation: a malformed ingest record or source identifier
//   - Config: a broken match-key configuration or module reference
//   - Conflict: concurrent upserts raced on a match value and the
//     bounded retry was exhausted
//   - Not found: a record, cluster or configuration does not exist
//
// Error includes structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ConfigID identifies the match-key configuration, when relevant.
	ConfigID string

	// LocalID identifies the affected record, when relevant.
	LocalID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes cluster errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed record or identifier.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConfig indicates a broken match-key configuration.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeConflict indicates the optimistic retry was exhausted.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeNotFound indicates a missing record, cluster or config.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.ConfigID != "" && e.LocalID != "":
		return fmt.Sprintf("%s: %s (matchkey=%s, localId=%s)", e.Code, e.Message, e.ConfigID, e.LocalID)
	case e.ConfigID != "":
		return fmt.Sprintf("%s: %s (matchkey=%s)", e.Code, e.Message, e.ConfigID)
	case e.LocalID != "":
		return fmt.Sprintf("%s: %s (localId=%s)", e.Code, e.Message, e.LocalID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if the error is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsConflictError returns true if the error is an exhausted-retry
// conflict. Uses errors.As to handle wrapped errors.
func IsConflictError(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsNotFoundError returns true if the error reports a missing entity.
// Uses errors.As to handle wrapped errors.
func IsNotFoundError(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// NewValidationError creates an Error for a malformed record.
func NewValidationError(localID, message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message, LocalID: localID}
}

// NewConflictError creates an Error for an exhausted retry.
func NewConflictError(localID string, attempts int, cause error) *Error {
	return &Error{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("upsert conflict persisted after %d attempts", attempts),
		LocalID: localID,
		Err:     cause,
	}
}

// NewNotFoundError creates an Error for a missing entity.
func NewNotFoundError(message string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: message}
}
