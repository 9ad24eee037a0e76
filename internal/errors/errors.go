// Package errors provides typed errors for the cTrader gateway.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error cases.
var (
	// ErrNotFound indicates a resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the caller did not present a valid API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates a validation error.
	ErrValidation = errors.New("validation error")

	// ErrInternal indicates an internal server error.
	ErrInternal = errors.New("internal error")

	// ErrRateLimit indicates too many requests.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrUnknownSymbol indicates a symbol has no mapping entry.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrConnectivity indicates a vendor handshake or network failure.
	ErrConnectivity = errors.New("connectivity error")

	// ErrVendor indicates a vendor rejected an individual operation.
	ErrVendor = errors.New("vendor error")

	// ErrConfig indicates missing or malformed configuration.
	ErrConfig = errors.New("configuration error")
)

// AppError is a structured application error.
type AppError struct {
	// Type is the error type (sentinel error).
	Type error
	// Message is the user-facing error message.
	Message string
	// Details contains additional error details.
	Details map[string]any
	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error type.
func (e *AppError) Unwrap() error {
	return e.Type
}

// Is checks if this error matches the target.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Type, target) || (e.Cause != nil && errors.Is(e.Cause, target))
}

// New creates a new AppError.
func New(errType error, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(errType error, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails adds details to an AppError.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Type:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Type:    ErrUnauthorized,
		Message: message,
	}
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return &AppError{
		Type:    ErrValidation,
		Message: message,
	}
}

// ValidationField creates a validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Type:    ErrValidation,
		Message: message,
		Details: map[string]any{"field": field},
	}
}

// UnknownSymbol creates the error returned when a symbol cannot be mapped.
// The message format is part of the trade result contract.
func UnknownSymbol(symbol string) *AppError {
	return &AppError{
		Type:    ErrUnknownSymbol,
		Message: fmt.Sprintf("Unknown symbol: %s", symbol),
	}
}

// Connectivity wraps a handshake or transport failure.
func Connectivity(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrConnectivity,
		Message: message,
		Cause:   cause,
	}
}

// Vendor wraps a rejected vendor operation.
func Vendor(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrVendor,
		Message: message,
		Cause:   cause,
	}
}

// Internal creates an internal error.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnknownSymbol checks if an error is an unknown symbol error.
func IsUnknownSymbol(err error) bool {
	return errors.Is(err, ErrUnknownSymbol)
}

// IsConnectivity checks if an error is a connectivity error.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownSymbol):
		return 404
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrRateLimit):
		return 429
	case errors.Is(err, ErrConnectivity):
		return 502
	default:
		return 500
	}
}
