package model

import "fmt"

// Standard error codes.
const (
	ErrNotFound        = "NOT_FOUND"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrConflict        = "CONFLICT"
	ErrPersistence     = "PERSISTENCE_ERROR"
	ErrEvaluation      = "EVALUATION_ERROR"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrInternalError   = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard structured error returned by the core.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewInvalidArgumentError returns an INVALID_ARGUMENT error.
func NewInvalidArgumentError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidArgument, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewPersistenceError wraps a storage collaborator failure.
func NewPersistenceError(msg string, cause error) *ErrorEnvelope {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &ErrorEnvelope{Code: ErrPersistence, Message: msg}
}

// NewEvaluationError describes a single rule's condition or action failure.
// It is caught inside the rewrite engine and never surfaced to callers.
func NewEvaluationError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEvaluation, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// ErrorCode extracts the machine code from an error, or INTERNAL_ERROR for
// errors the core did not produce.
func ErrorCode(err error) string {
	if env, ok := err.(*ErrorEnvelope); ok {
		return env.Code
	}
	return ErrInternalError
}
