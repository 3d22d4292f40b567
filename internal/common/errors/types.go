package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeTransport represents network-level failures (refused, timeout, TLS).
	// Transport failures are the only retryable class during token acquisition.
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeRejection represents a non-2xx answer from a token endpoint
	ErrTypeRejection ErrorType = "rejection"
	// ErrTypeProtocol represents a 2xx answer whose body is unusable
	ErrTypeProtocol ErrorType = "protocol"
	// ErrTypeExhaustion represents all retry attempts being consumed
	ErrTypeExhaustion ErrorType = "exhaustion"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// TransportError creates a new retryable transport-level error
func TransportError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTransport,
		Message: msg,
		Cause:   cause,
	}
}

// RejectionError creates an error for a non-2xx token endpoint response.
// The body must already be redacted by the caller before it is attached.
func RejectionError(status int, body string) *AppError {
	return &AppError{
		Type:    ErrTypeRejection,
		Message: fmt.Sprintf("token endpoint returned status %d", status),
		Context: map[string]interface{}{
			"status": status,
			"body":   body,
		},
	}
}

// ProtocolError creates an error for an unusable 2xx token response body
func ProtocolError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeProtocol,
		Message: msg,
		Cause:   cause,
	}
}

// ExhaustionError creates an error for a retry loop that consumed all attempts
func ExhaustionError(attempts int, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeExhaustion,
		Message: fmt.Sprintf("token acquisition failed after %d attempts", attempts),
		Cause:   cause,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// Retryable reports whether an error belongs to the transport class.
// Everything else (rejection, protocol, config) is a terminal failure
// that retrying cannot fix.
func Retryable(err error) bool {
	return IsType(err, ErrTypeTransport)
}
