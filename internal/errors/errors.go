package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"

	// Storage errors
	ErrCodeDBConnection ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery      ErrorCode = "DB_QUERY_ERROR"
	ErrCodeDBConstraint ErrorCode = "DB_CONSTRAINT_ERROR"

	// Provider errors
	ErrCodeDataSource      ErrorCode = "DATA_SOURCE_ERROR"
	ErrCodeRateLimit       ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeDataNotFound    ErrorCode = "DATA_NOT_FOUND"
	ErrCodeProviderGated   ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidData     ErrorCode = "INVALID_DATA"
	ErrCodeIngestionParse  ErrorCode = "INGESTION_PARSE_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeSchemaOperation ErrorCode = "SCHEMA_OPERATION_ERROR"
)

// AppError is the application error structure. Every error that crosses a
// package boundary is an *AppError so callers can branch on Code.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new application error.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new application error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new application error wrapping a cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   err.Error(),
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// NewDataSourceError reports a generic provider transport or protocol failure.
func NewDataSourceError(provider string, cause error) *AppError {
	return Wrap(cause, ErrCodeDataSource, fmt.Sprintf("provider %s request failed", provider)).
		WithContext("provider", provider)
}

// NewRateLimitError reports an exhausted provider request budget.
func NewRateLimitError(provider string, retryAfter time.Duration) *AppError {
	return Newf(ErrCodeRateLimit, "provider %s rate limit exceeded", provider).
		WithContext("provider", provider).
		WithContext("retry_after", retryAfter.String())
}

// NewDataNotFoundError reports an instrument unknown to the provider.
func NewDataNotFoundError(provider, ticker string) *AppError {
	return Newf(ErrCodeDataNotFound, "provider %s has no data for %s", provider, ticker).
		WithContext("provider", provider).
		WithContext("ticker", ticker)
}

// InvalidDataError carries the complete list of field violations found while
// validating an external payload. Construction never stops at the first bad
// field.
type InvalidDataError struct {
	Subject    string
	Violations []string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("[%s] %s validation failed: %s",
		ErrCodeInvalidData, e.Subject, strings.Join(e.Violations, "; "))
}

// NewInvalidDataError builds an InvalidDataError from accumulated violations.
func NewInvalidDataError(subject string, violations []string) *InvalidDataError {
	return &InvalidDataError{Subject: subject, Violations: violations}
}

// NewIngestionParseError reports a malformed row or file. The error is scoped
// to the named file, never to the whole run.
func NewIngestionParseError(file string, line int, cause error) *AppError {
	return Wrap(cause, ErrCodeIngestionParse, fmt.Sprintf("malformed data in %s", file)).
		WithContext("file", file).
		WithContext("line", line)
}

// IsCode reports whether err (or anything it wraps) is an *AppError with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRateLimit reports whether err is a rate limit error.
func IsRateLimit(err error) bool { return IsCode(err, ErrCodeRateLimit) }

// IsDataNotFound reports whether err is a data-not-found error.
func IsDataNotFound(err error) bool { return IsCode(err, ErrCodeDataNotFound) }

// IsInvalidData reports whether err is a validation error.
func IsInvalidData(err error) bool {
	var invErr *InvalidDataError
	return errors.As(err, &invErr)
}
