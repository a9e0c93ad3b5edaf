// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidID       = fmt.Errorf("%w: invalid ID", ErrInvalidInput)
	ErrEmptyValue      = fmt.Errorf("%w: value cannot be empty", ErrInvalidInput)
	ErrValueOutOfRange = fmt.Errorf("%w: value out of range", ErrInvalidInput)
	ErrInvalidFormat   = fmt.Errorf("%w: invalid format", ErrInvalidInput)

	// State conflicts. Callers treat these as no-ops and never retry them.
	ErrConflict         = errors.New("state conflict")
	ErrAlreadyProcessed = fmt.Errorf("%w: already processed", ErrConflict)
	ErrExpired          = fmt.Errorf("%w: expired", ErrConflict)

	// Transient errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrServiceUnavailable     = errors.New("service unavailable")
	ErrTimeout                = errors.New("operation timeout")
	ErrRateLimited            = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "streak", "grace", "microtask"
	Op      string // Operation that failed, e.g., "Update", "Complete"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Streak ledger errors
var (
	ErrInvalidUserID  = NewDomainError("streak", "Validate", ErrInvalidID, "user id is required")
	ErrUnknownTrack   = NewDomainError("streak", "Validate", ErrInvalidInput, "unknown streak track")
	ErrInvalidDate    = NewDomainError("streak", "Validate", ErrInvalidInput, "occurrence date is required")
	ErrLedgerNotFound = NewDomainError("streak", "Find", ErrNotFound, "streak ledger not found")
)

// Grace errors
var (
	ErrGraceNotFound    = NewDomainError("grace", "Find", ErrNotFound, "grace state not found")
	ErrGraceAlreadyUsed = NewDomainError("grace", "Consume", ErrAlreadyProcessed, "grace already used this week")
)

// Micro-task errors
var (
	ErrMicroTaskNotFound         = NewDomainError("microtask", "Find", ErrNotFound, "micro-task not found")
	ErrMicroTaskAlreadyCompleted = NewDomainError("microtask", "Complete", ErrAlreadyProcessed, "micro-task already completed")
	ErrMicroTaskExpired          = NewDomainError("microtask", "Complete", ErrExpired, "micro-task expired")
	ErrInvalidEstimate           = NewDomainError("microtask", "Validate", ErrValueOutOfRange, "estimated minutes must be between 5 and 30")
	ErrUnknownTaskType           = NewDomainError("microtask", "Validate", ErrInvalidInput, "unknown micro-task type")
	ErrInvalidTaskID             = NewDomainError("microtask", "Validate", ErrInvalidID, "invalid micro-task id")
)

// Notification errors
var (
	ErrNotificationSuppressed = NewDomainError("notification", "Send", ErrRateLimited, "notification suppressed")
	ErrNotificationFailed     = NewDomainError("notification", "Send", ErrServiceUnavailable, "failed to deliver notification")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is an invalid-input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict checks if the error is a state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
