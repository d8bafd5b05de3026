// Package services holds the business operations behind the management API
// and the shared error taxonomy the HTTP layers map to status codes.
package services

import (
	"errors"
	"fmt"
)

// Admission errors. The gateway maps each to exactly one response code, so a
// sender can tell a stale timestamp from a bad signature from a replay.
var (
	ErrTriggerPaused          = errors.New("trigger is paused")                    // 423
	ErrUnsupportedContentType = errors.New("unsupported content type")             // 415
	ErrIPNotAllowed           = errors.New("source address not allowlisted")       // 403
	ErrTimestampOutOfRange    = errors.New("timestamp outside tolerance")          // 401
	ErrSignatureInvalid       = errors.New("signature verification failed")        // 401
	ErrSecretRevoked          = errors.New("signing secret revoked")               // 401
	ErrDuplicateDelivery      = errors.New("duplicate delivery")                   // 409
	ErrMalformedPayload       = errors.New("payload failed parsing or validation") // 422
)

// Management and execution errors.
var (
	ErrWorkflowInactive      = errors.New("workflow is not active")
	ErrWorkflowNameRequired  = errors.New("workflow name is required")
	ErrWorkflowNil           = errors.New("workflow cannot be nil")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrActionExecutionFailed = errors.New("action execution failed")
	ErrActionTimeout         = errors.New("action timed out")
)

// ServiceError wraps service-level errors with operation context and a stable
// code the API layer can surface.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
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

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks whether an error should surface as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrWorkflowNil)
}

// IsConflictError checks whether an error should surface as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDuplicateDelivery)
}

// IsAdmissionError checks whether an error belongs to the webhook admission
// taxonomy, i.e. a delivery the gateway rejected by contract rather than a
// fault in the engine.
func IsAdmissionError(err error) bool {
	for _, admission := range []error{
		ErrTriggerPaused,
		ErrUnsupportedContentType,
		ErrIPNotAllowed,
		ErrTimestampOutOfRange,
		ErrSignatureInvalid,
		ErrSecretRevoked,
		ErrDuplicateDelivery,
		ErrMalformedPayload,
	} {
		if errors.Is(err, admission) {
			return true
		}
	}

	return false
}
