// Package chaterrors provides error handling functionality for the chat service.
// It defines error categories, error codes, and typed errors for admission
// and delivery failures.
package chaterrors

import "fmt"

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAdmission represents failures of the connection admission protocol
	CategoryAdmission ErrorCategory = "admission"
	// CategoryDelivery represents per-recipient broadcast delivery failures
	CategoryDelivery ErrorCategory = "delivery"
	// CategoryService represents service-level errors (database, upstream auth)
	CategoryService ErrorCategory = "service"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Admission errors, in the order the gate checks them
	ErrCodeMissingToken  ErrorCode = "MISSING_TOKEN"
	ErrCodeInvalidToken  ErrorCode = "INVALID_TOKEN"
	ErrCodeExpired       ErrorCode = "EXPIRED"
	ErrCodeWrongIssuer   ErrorCode = "WRONG_ISSUER"
	ErrCodeTopicMismatch ErrorCode = "TOPIC_MISMATCH"
	ErrCodeTokenReused   ErrorCode = "TOKEN_REUSED"

	// Delivery errors
	ErrCodeDeliveryFailure ErrorCode = "DELIVERY_FAILURE"

	// Service errors
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeUpstreamError ErrorCode = "UPSTREAM_ERROR"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
)

// ChatError represents an application error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// NewAdmissionError creates a new admission error (fatal, the upgrade is rejected)
func NewAdmissionError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAdmission,
		Code:        code,
		Message:     message,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewDeliveryError creates a new delivery error (recoverable, isolated per recipient)
func NewDeliveryError(message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryDelivery,
		Code:        ErrCodeDeliveryFailure,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewServiceError creates a new service error (recoverable with retry)
func NewServiceError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryService,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, message string, retryAfter int, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrMissingToken creates a missing admission token error
func ErrMissingToken() *ChatError {
	return NewAdmissionError(ErrCodeMissingToken, "Admission token is required", nil)
}

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *ChatError {
	return NewAdmissionError(ErrCodeInvalidToken, "Admission token is invalid", cause)
}

// ErrExpired creates an error for a token outside its validity window
func ErrExpired(cause error) *ChatError {
	return NewAdmissionError(ErrCodeExpired, "Admission token is outside its validity window", cause)
}

// ErrWrongIssuer creates an error for a token minted by an unexpected issuer
func ErrWrongIssuer(issuer string) *ChatError {
	return NewAdmissionError(ErrCodeWrongIssuer, fmt.Sprintf("Admission token issuer %q is not trusted", issuer), nil)
}

// ErrTopicMismatch creates an error for a token that does not authorize the requested monitor
func ErrTopicMismatch(monitorID string) *ChatError {
	return NewAdmissionError(ErrCodeTopicMismatch, fmt.Sprintf("Admission token does not authorize monitor %q", monitorID), nil)
}

// ErrTokenReused creates an error for a replayed admission token
func ErrTokenReused() *ChatError {
	return NewAdmissionError(ErrCodeTokenReused, "Admission token was already used", nil)
}

// ErrDatabaseError creates a database error
func ErrDatabaseError(cause error) *ChatError {
	return NewServiceError(ErrCodeDatabaseError, "Database operation failed", cause)
}

// ErrUpstreamError creates an upstream credential verification error
func ErrUpstreamError(cause error) *ChatError {
	return NewServiceError(ErrCodeUpstreamError, "Upstream credential verification failed", cause)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeTooManyRequests,
		"Too many requests, please slow down", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection limit exceeded error
func ErrConnectionLimitExceeded(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeConnectionLimit,
		"Connection limit exceeded, please try again later", retryAfter, nil)
}
