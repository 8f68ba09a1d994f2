// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies
// beyond the UUID type used for user identifiers.
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
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Storage errors
	ErrStorage = errors.New("storage error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "achievement", "leaderboard"
	Op      string // Operation that failed, e.g., "AwardXP", "Unlock"
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

// Progression domain errors
var (
	ErrStatsNotFound     = NewDomainError("progression", "Get", ErrNotFound, "user stats not found")
	ErrNegativeXPAmount  = NewDomainError("progression", "AwardXP", ErrNegativeValue, "xp amount cannot be negative")
	ErrInvalidUserID     = NewDomainError("progression", "Validate", ErrInvalidID, "user ID is required")
	ErrUnknownDifficulty = NewDomainError("progression", "Validate", ErrInvalidInput, "unknown challenge difficulty")
)

// Achievement domain errors
var (
	ErrAchievementNotFound = NewDomainError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrUnknownTrigger      = NewDomainError("achievement", "Validate", ErrInvalidInput, "unknown trigger category")
	ErrUnknownRarity       = NewDomainError("achievement", "Validate", ErrInvalidInput, "unknown rarity")
	ErrDuplicateCheck      = NewDomainError("achievement", "Register", ErrAlreadyExists, "check already registered")
)

// Leaderboard domain errors
var (
	ErrUnknownSortKey = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "unknown leaderboard sort key")
	ErrInvalidLimit   = NewDomainError("leaderboard", "Validate", ErrValueOutOfRange, "limit cannot be negative")
)

// Activity domain errors
var (
	ErrInvalidYear = NewDomainError("activity", "Validate", ErrValueOutOfRange, "year out of range")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried as a whole.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrConcurrentModification)
}

// StorageError wraps a driver failure so that callers can classify it with errors.Is(err, ErrStorage).
func StorageError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(domain, op, ErrStorage, "storage failure", err)
}
