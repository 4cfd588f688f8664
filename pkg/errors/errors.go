// Package errors defines custom error types and error handling utilities for certguard.
// Errors carry a machine-readable code and the HTTP status the transport layer should use.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/turtacn/certguard/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// GuardError represents a structured error with additional metadata
type GuardError interface {
	error

	// Code returns the machine-readable error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) GuardError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) GuardError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

// Error implements the error interface
func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *baseError) Code() constants.ErrorCode { return e.code }

func (e *baseError) HTTPStatus() int { return e.httpStatus }

func (e *baseError) Description() string { return e.description }

func (e *baseError) Unwrap() error { return e.cause }

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) GuardError {
	e.cause = cause
	return e
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) GuardError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// Is matches two GuardErrors by code so errors.Is works against the sentinels below.
func (e *baseError) Is(target error) bool {
	t, ok := target.(*baseError)
	if !ok {
		return false
	}
	return t.code == e.code
}

// ================================================================================
// Constructors
// ================================================================================

// NewError creates a new GuardError with the specified parameters
func NewError(code constants.ErrorCode, httpStatus int, description string, message string) GuardError {
	return &baseError{
		code:        code,
		httpStatus:  httpStatus,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) GuardError {
	return NewError(
		constants.ErrCodeInvalidRequest,
		http.StatusBadRequest,
		"The request is missing a required parameter or includes an invalid parameter value.",
		message,
	)
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) GuardError {
	return NewError(
		constants.ErrCodeUnauthorized,
		http.StatusUnauthorized,
		"The request lacks valid administrative credentials.",
		message,
	)
}

// ErrNotFound creates a not_found error
func ErrNotFound(message string) GuardError {
	return NewError(
		constants.ErrCodeNotFound,
		http.StatusNotFound,
		"The requested resource does not exist.",
		message,
	)
}

// ErrStoreUnavailable creates a store_unavailable error
func ErrStoreUnavailable(message string) GuardError {
	return NewError(
		constants.ErrCodeStoreUnavailable,
		http.StatusServiceUnavailable,
		"The counter store could not be reached.",
		message,
	)
}

// ErrServerError creates a server_error error
func ErrServerError(message string) GuardError {
	return NewError(
		constants.ErrCodeServerError,
		http.StatusInternalServerError,
		"The server encountered an unexpected condition.",
		message,
	)
}

// ErrInvalidConfig is returned when configuration is missing or inconsistent.
var ErrInvalidConfig = NewError(
	constants.ErrCodeInvalidConfig,
	http.StatusInternalServerError,
	"The service configuration is invalid.",
	"invalid configuration",
)

// ================================================================================
// Helpers
// ================================================================================

// AsGuardError extracts a GuardError from an error chain.
func AsGuardError(err error) (GuardError, bool) {
	var ge GuardError
	if stderrors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// HTTPStatusOf returns the HTTP status for err, defaulting to 500.
func HTTPStatusOf(err error) int {
	if ge, ok := AsGuardError(err); ok {
		return ge.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Is forwards to the standard library so callers need a single errors import.
func Is(err, target error) bool { return stderrors.Is(err, target) }
