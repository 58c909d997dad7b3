package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest    = "BAD_REQUEST"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrNotAuthorized = "NOT_AUTHORIZED"
	ErrNotFound      = "NOT_FOUND"
	ErrConflict      = "CONFLICT"
	ErrValidation    = "VALIDATION_ERROR"
	ErrInternal      = "INTERNAL_ERROR"
)

// Engine-specific error codes.
const (
	ErrTerminalState      = "TERMINAL_STATE"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrNoEligibleAssignee = "NO_ELIGIBLE_ASSIGNEE"
)

// ErrorEnvelope is the standard error shape returned by every engine
// operation. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsCode reports whether err is an *ErrorEnvelope carrying the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotAuthorizedError returns a NOT_AUTHORIZED error for an authenticated
// actor lacking permission on the subject.
func NewNotAuthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotAuthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. Conflicts are retryable: the
// caller may re-read and resubmit.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidation,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an opaque INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternal,
		Message: "An unexpected error occurred",
	}
}

// NewTerminalStateError returns a TERMINAL_STATE error. Mutations of
// completed, failed, or cancelled subjects are rejected, never queued.
func NewTerminalStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrTerminalState, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error for a status
// change the state machine does not permit.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewNoEligibleAssigneeError returns a NO_ELIGIBLE_ASSIGNEE error. Routing
// dead-ends are surfaced to the caller, never silently degraded.
func NewNoEligibleAssigneeError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNoEligibleAssignee, Message: msg}
}
