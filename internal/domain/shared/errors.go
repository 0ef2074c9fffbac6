// Package shared contains common domain types and errors used across all
// domain packages. This package has zero external dependencies.
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
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// External data source errors. A lookup failure covers both transport
	// failures and a non-OK status reported by the Codeforces API.
	ErrLookup         = errors.New("external lookup failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrExternalStatus = errors.New("external service reported failure")

	// Schedule errors
	ErrInvalidSchedule = errors.New("invalid schedule expression")

	// Persistence errors
	ErrPersistence = errors.New("persistence failure")

	// Notification errors. Always swallowed after logging - a failed email
	// must never fail the student cycle that triggered it.
	ErrNotification = errors.New("notification dispatch failed")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "student", "schedule", "sync"
	Op      string // Operation that failed, e.g. "Create", "Reconfigure"
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

// Student domain errors
var (
	ErrStudentNotFound      = NewDomainError("student", "Find", ErrNotFound, "student not found")
	ErrStudentAlreadyExists = NewDomainError("student", "Create", ErrAlreadyExists, "student already exists")
	ErrDuplicateEmail       = NewDomainError("student", "Validate", ErrAlreadyExists, "email already registered")
	ErrDuplicatePhoneNumber = NewDomainError("student", "Validate", ErrAlreadyExists, "phone number already registered")
	ErrDuplicateHandle      = NewDomainError("student", "Validate", ErrAlreadyExists, "handle already registered")
)
