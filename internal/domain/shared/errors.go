// Package shared contains common domain types and errors that are used across
// all domain packages. This package has zero external dependencies.
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
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState = errors.New("invalid state")

	// External service errors
	ErrAuthExpired         = errors.New("authentication expired")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrRateLimited         = errors.New("rate limited")

	// Storage errors
	ErrStoreUnavailable = errors.New("benefit store unavailable")

	// Extraction errors
	ErrMalformedRow     = errors.New("malformed row")
	ErrNoMatchingPeriod = errors.New("no matching period")
	ErrAmbiguousCareer  = errors.New("ambiguous career match")

	// Benefit errors
	ErrHardConflict    = errors.New("hard benefit conflict")
	ErrSoftConflict    = errors.New("soft benefit conflict")
	ErrUnresolvedTies  = errors.New("unresolved ranking ties")
	ErrSupersedeFailed = errors.New("supersession failed")
	ErrGroupRolledBack = errors.New("group rolled back")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "kardex", "benefit", "academic"
	Op      string // Operation that failed, e.g., "Extract", "Assign"
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

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuthExpired checks if the error signals an expired or rejected session.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsUpstream checks if the error comes from the external academic service
// being unreachable or overloaded.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrRateLimited)
}
