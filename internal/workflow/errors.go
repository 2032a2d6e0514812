package workflow

import (
	"fmt"

	"cseflow/internal/domain"
)

// NotFoundError indicates a missing form or step.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// AuthorizationError indicates a role, status, or tenant mismatch.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	if e.Reason == "" {
		return "not authorized for this action"
	}
	return "not authorized: " + e.Reason
}

// InvalidTransitionError indicates a status change not in the transition
// table.
type InvalidTransitionError struct {
	From domain.FormStatus
	To   domain.FormStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
