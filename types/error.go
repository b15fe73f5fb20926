package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the swarm core.
type ErrorCode string

// Swarm error codes
const (
	ErrValidation        ErrorCode = "VALIDATION"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrConsensus         ErrorCode = "CONSENSUS"
	ErrExecution         ErrorCode = "EXECUTION"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrNotFound          ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent sets the component that raised the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// Validationf builds a VALIDATION error.
func Validationf(format string, args ...any) *Error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds a CONFLICT error.
func Conflictf(format string, args ...any) *Error {
	return NewError(ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf builds a NOT_FOUND error.
func NotFoundf(format string, args ...any) *Error {
	return NewError(ErrNotFound, fmt.Sprintf(format, args...))
}

// Consensusf builds a CONSENSUS error.
func Consensusf(format string, args ...any) *Error {
	return NewError(ErrConsensus, fmt.Sprintf(format, args...))
}

// Executionf builds a retryable EXECUTION error.
func Executionf(format string, args ...any) *Error {
	return NewError(ErrExecution, fmt.Sprintf(format, args...)).WithRetryable(true)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation failure. Rejected
// lifecycle transitions count as validation failures.
func IsValidation(err error) bool {
	code := GetErrorCode(err)
	return code == ErrValidation || code == ErrInvalidTransition
}

// IsConflict reports whether err carries the CONFLICT code.
func IsConflict(err error) bool { return GetErrorCode(err) == ErrConflict }

// IsConsensus reports whether err carries the CONSENSUS code.
func IsConsensus(err error) bool { return GetErrorCode(err) == ErrConsensus }

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool { return GetErrorCode(err) == ErrNotFound }

// IsExecution reports whether err is an execution failure, including cancellation.
func IsExecution(err error) bool {
	code := GetErrorCode(err)
	return code == ErrExecution || code == ErrCancelled
}
