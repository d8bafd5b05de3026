package persistence

import (
	"errors"
)

// Standard persistence error types that all implementations use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrSecretNotFound indicates no secret exists for the given trigger.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrScheduleNotFound indicates a schedule entry was not found.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrTraceNotFound indicates an execution trace was not found.
	ErrTraceNotFound = errors.New("execution trace not found")

	// ErrDeliveryNotFound indicates a delivery record was not found.
	ErrDeliveryNotFound = errors.New("delivery not found")
)

// IsWorkflowNotFound checks if an error indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsSecretNotFound checks if an error indicates a missing secret.
func IsSecretNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}

// IsTraceNotFound checks if an error indicates a missing execution trace.
func IsTraceNotFound(err error) bool {
	return errors.Is(err, ErrTraceNotFound)
}
