// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates an automation flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("automation flow not found")

	// ErrEscalationNotFound indicates an escalation was not found by the given identifier.
	ErrEscalationNotFound = errors.New("escalation not found")

	// ErrIncentiveNotFound indicates an incentive was not found by the given identifier or code.
	ErrIncentiveNotFound = errors.New("incentive not found")

	// ErrMilestoneNotFound indicates a milestone was not found by the given identifier.
	ErrMilestoneNotFound = errors.New("milestone not found")

	// ErrDuplicateCode indicates an incentive redemption code is already in use.
	ErrDuplicateCode = errors.New("redemption code already exists")
)

// EntityError wraps entity-related persistence errors with operation context.
type EntityError struct {
	Op       string // Operation being performed (e.g., "GetByID", "Save", "Update")
	Entity   string // Entity kind (flow, escalation, incentive, milestone)
	EntityID string // Entity ID if applicable
	Err      error  // Underlying error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, entityID string, err error) *EntityError {
	return &EntityError{
		Op:       op,
		Entity:   entity,
		EntityID: entityID,
		Err:      err,
	}
}

// IsFlowNotFound checks if an error indicates an automation flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsEscalationNotFound checks if an error indicates an escalation was not found.
func IsEscalationNotFound(err error) bool {
	return errors.Is(err, ErrEscalationNotFound)
}

// IsIncentiveNotFound checks if an error indicates an incentive was not found.
func IsIncentiveNotFound(err error) bool {
	return errors.Is(err, ErrIncentiveNotFound)
}

// IsMilestoneNotFound checks if an error indicates a milestone was not found.
func IsMilestoneNotFound(err error) bool {
	return errors.Is(err, ErrMilestoneNotFound)
}

// IsDuplicateCode checks if an error indicates a redemption code collision.
func IsDuplicateCode(err error) bool {
	return errors.Is(err, ErrDuplicateCode)
}

// IsNotFound checks if an error is any of the entity not-found errors.
func IsNotFound(err error) bool {
	return IsFlowNotFound(err) ||
		IsEscalationNotFound(err) ||
		IsIncentiveNotFound(err) ||
		IsMilestoneNotFound(err)
}
