// Package services provides standardized error types for service layer
// operations.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These indicate client errors (4xx responses).
var (
	// Invalid creation parameters (400 Bad Request).
	ErrValueNotPositive = errors.New("incentive value must be greater than zero")
	ErrNegativeMinSpend = errors.New("minimum spend cannot be negative")
	ErrInvalidMaxUses   = errors.New("max uses must be at least one")
	ErrExpiryInPast     = errors.New("expiry must be in the future")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
	ErrInvalidCount     = errors.New("count must be at least one")
	ErrEmptyNoteText    = errors.New("note text cannot be empty")

	// State machine violations (409 Conflict).
	ErrNotSendable      = errors.New("incentive is not in a sendable status")
	ErrUsageCapReached  = errors.New("incentive usage cap already reached")
	ErrAlreadyRedeemed  = errors.New("redeemed incentives cannot be expired")
	ErrFlowNotActive    = errors.New("automation flow is not active")

	// Redemption-specific failures.
	ErrInvalidCode = errors.New("invalid redemption code")
	ErrExpired     = errors.New("incentive has expired")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsInvalidParameter checks if an error is a creation-input violation that
// should return HTTP 400.
func IsInvalidParameter(err error) bool {
	return errors.Is(err, ErrValueNotPositive) ||
		errors.Is(err, ErrNegativeMinSpend) ||
		errors.Is(err, ErrInvalidMaxUses) ||
		errors.Is(err, ErrExpiryInPast) ||
		errors.Is(err, ErrInvalidRating) ||
		errors.Is(err, ErrInvalidCount) ||
		errors.Is(err, ErrEmptyNoteText)
}

// IsInvalidState checks if an error is a status-machine violation that
// should return HTTP 409.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrNotSendable) ||
		errors.Is(err, ErrUsageCapReached) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrFlowNotActive)
}

// IsInvalidCode checks if an error indicates an unknown or inactive
// redemption code.
func IsInvalidCode(err error) bool {
	return errors.Is(err, ErrInvalidCode)
}

// IsExpired checks if an error indicates a lazily expired incentive.
func IsExpired(err error) bool {
	return errors.Is(err, ErrExpired)
}
