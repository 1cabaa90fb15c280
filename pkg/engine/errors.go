package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// acknowledgement logic.
type ErrorClass string

const (
	// ErrorClassValidation indicates a malformed or semantically invalid
	// configuration. Non-retryable.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates a declared resource already exists under
	// a strategy that forbids creation. Non-retryable.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassNotFound indicates an update or delete strategy references a
	// resource that does not exist remotely. Non-retryable.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassTransient indicates a timeout, connection failure, or remote
	// rate limit. Retried via queue redelivery.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassCleanup indicates a failure during orphan cleanup. Logged
	// and surfaced as a warning, never fatal to the attempt.
	ErrorClassCleanup ErrorClass = "cleanup"
)

// ProvisionError is a classified error with resource and step context.
type ProvisionError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Resource is the resource name that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Step is the orchestration step being executed when the error occurred.
	Step string `json:"step,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" {
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Step != "" {
		msg += fmt.Sprintf(" (step=%s)", e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// WithResource adds resource context to an error.
func (e *ProvisionError) WithResource(name string) *ProvisionError {
	e.Resource = name
	return e
}

// WithStep adds step context to an error.
func (e *ProvisionError) WithStep(step string) *ProvisionError {
	e.Step = step
	return e
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassNotFound, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewCleanupError creates a new cleanup error.
func NewCleanupError(message string, err error) *ProvisionError {
	return &ProvisionError{Class: ErrorClassCleanup, Message: message, Err: err}
}

// ClassOf returns the classification of an error, defaulting to transient
// for unclassified errors so unknown failures are retried rather than
// permanently failed.
func ClassOf(err error) ErrorClass {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ErrorClassTransient
}

// IsRetryable returns true if the error can be retried via queue redelivery.
// Only transient errors are retryable; retrying a validation, conflict, or
// not-found error cannot help.
func IsRetryable(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}
