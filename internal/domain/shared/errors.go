// Package shared contains common domain types, errors and events used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors for errors.Is() checking.
var (
	ErrNotFound     = errors.New("entity not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
	ErrStale        = errors.New("stale response for replaced session")
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError carries domain, operation and error-kind context so callers can
// match with errors.Is while logs stay readable.
type DomainError struct {
	Domain  string // e.g. "session", "lms"
	Op      string // operation that failed, e.g. "Open", "FetchProgress"
	Kind    error  // base error for errors.Is() matching
	Message string
	Err     error // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both Kind and Err.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// Session errors
var (
	ErrSessionNotFound = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionClosed   = NewDomainError("session", "Use", ErrInvalidState, "session already closed")
	ErrStaleResponse   = NewDomainError("session", "Apply", ErrStale, "response belongs to a replaced lesson view")
)

// Backend-of-record errors
var (
	ErrAuthNotReady = NewDomainError("lms", "Auth", ErrUnauthorized, "credentials not ready")
)
