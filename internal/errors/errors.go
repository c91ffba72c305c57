package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidJID      ErrorCode = "INVALID_JID"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"

	// Limits
	ErrCodeLimitExceeded ErrorCode = "LIMIT_EXCEEDED"

	// Store
	ErrCodeStoreClosed ErrorCode = "STORE_CLOSED"
	ErrCodeStoreBusy   ErrorCode = "STORE_BUSY"

	// Session / protocol
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"
	ErrCodeLoggedOut    ErrorCode = "LOGGED_OUT"
	ErrCodeSendTimeout  ErrorCode = "SEND_TIMEOUT"

	// Webhook
	ErrCodeWebhookFailed ErrorCode = "WEBHOOK_FAILED"

	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidJID(jid string) *AppError {
	return New(ErrCodeInvalidJID, fmt.Sprintf("Invalid JID: %s", jid))
}

func LimitExceeded(message string) *AppError {
	return New(ErrCodeLimitExceeded, message)
}

func StoreClosed() *AppError {
	return New(ErrCodeStoreClosed, "Store is closed")
}

func StoreBusy(cause error) *AppError {
	return Wrap(ErrCodeStoreBusy, "Store write contention not resolved after retries", cause)
}

func NotConnected(sessionID string) *AppError {
	return New(ErrCodeNotConnected, fmt.Sprintf("Session %s is not connected", sessionID))
}

func LoggedOut(sessionID string) *AppError {
	return New(ErrCodeLoggedOut, fmt.Sprintf("Session %s is logged out", sessionID))
}

func SendTimeout() *AppError {
	return New(ErrCodeSendTimeout, "Queued message timed out before the session opened")
}

func WebhookFailed(reason string) *AppError {
	return New(ErrCodeWebhookFailed, fmt.Sprintf("Webhook delivery failed: %s", reason))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
