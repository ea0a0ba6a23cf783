package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"

	// Outbound-call error types consumed by the retry layer.
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeClient    ErrorType = "client"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

func NewAuthError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeAuth,
		Code:       "AUTH_FAILED",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
		Details:    map[string]interface{}{"service": service},
	}
}

func NewClientError(statusCode int, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeClient,
		Code:       "CLIENT_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: statusCode,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

func NewServerError(statusCode int, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeServer,
		Code:       "SERVER_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: statusCode,
	}
}

func NewNetworkError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Code:       "NETWORK_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 0,
	}
}

func NewUnknownError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnknown,
		Code:       "UNKNOWN_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 0,
	}
}

// Classify maps an HTTP status code and transport error onto the outbound-call
// error taxonomy. The status code wins when one is present; the error is only
// inspected for transport-level failures where no response arrived. Auth and
// non-429 client errors are not retryable; everything else is handed to the
// retry layer.
func Classify(statusCode int, err error) *AppError {
	if statusCode > 0 {
		var app *AppError
		switch {
		case statusCode == 401 || statusCode == 403:
			app = NewAuthError("", fmt.Sprintf("authentication failed with status %d", statusCode))
		case statusCode == 429:
			app = NewRateLimitError("rate limit exceeded")
		case statusCode >= 500:
			app = NewServerError(statusCode, fmt.Sprintf("server error with status %d", statusCode))
		case statusCode >= 400:
			app = NewClientError(statusCode, fmt.Sprintf("client error with status %d", statusCode))
		default:
			return nil
		}
		if err != nil {
			app = app.WithCause(err)
		}
		return app
	}

	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewNetworkError(err.Error()).WithCause(err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") {
		return NewNetworkError(err.Error()).WithCause(err)
	}
	return NewUnknownError(err.Error()).WithCause(err)
}

// Predefined common errors
var (
	ErrInvalidInput       = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrRawEventNotFound   = NewNotFoundError("raw event")
	ErrEnrichedNotFound   = NewNotFoundError("enriched event")
	ErrDedupNotFound      = NewNotFoundError("deduplicated event")
	ErrEntityNotFound     = NewNotFoundError("entity")
	ErrDuplicateRawEvent  = NewConflictError("Duplicate raw event detected")
	ErrNoContent          = NewBusinessError("NO_CONTENT", "No usable article content could be extracted")
	ErrCollectorDisabled  = NewBusinessError("COLLECTOR_DISABLED", "Collector is not configured for this run")
	ErrCircuitOpen        = NewExternalError("circuit", "circuit breaker is open")
	ErrMonthAlreadyDone   = NewConflictError("Month already marked processed")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
