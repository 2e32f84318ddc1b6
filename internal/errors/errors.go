// Package errors provides structured error types for the Waypost pipeline.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryTransport  ErrorCategory = "TRANSPORT"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategorySession    ErrorCategory = "SESSION"
	ErrCategoryGuide      ErrorCategory = "GUIDE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidEvent  = "INVALID_EVENT"
	CodeFieldTooLong  = "FIELD_TOO_LONG"
	CodeEmptyBatch    = "EMPTY_BATCH"
	CodeInvalidOS     = "INVALID_OS"
	CodeInvalidStep   = "INVALID_STEP"
	CodeInvalidParams = "INVALID_PARAMS"

	// Transport codes
	CodeInsertFailed    = "INSERT_FAILED"
	CodeRequestTimeout  = "REQUEST_TIMEOUT"
	CodePrimaryDisabled = "PRIMARY_DISABLED"
	CodeLegacyFailed    = "LEGACY_FAILED"

	// Storage codes
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// WaypostError is the structured error type used throughout the system.
type WaypostError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *WaypostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *WaypostError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *WaypostError) Is(target error) bool {
	var t *WaypostError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new WaypostError.
func New(category ErrorCategory, code, message string) *WaypostError {
	return &WaypostError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new WaypostError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *WaypostError {
	return &WaypostError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *WaypostError) WithDetails(details map[string]interface{}) *WaypostError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var we *WaypostError
	if errors.As(err, &we) {
		return we.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a WaypostError.
func GetCategory(err error) ErrorCategory {
	var we *WaypostError
	if errors.As(err, &we) {
		return we.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a WaypostError.
func GetCode(err error) string {
	var we *WaypostError
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// isRetryable determines if an error code represents a transient condition.
// Transient transport failures get demoted to the durable retry store;
// validation failures never retry.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryTransport && code == CodeInsertFailed:
		return true
	case category == ErrCategoryTransport && code == CodeRequestTimeout:
		return true
	case category == ErrCategoryTransport && code == CodeLegacyFailed:
		return true
	case category == ErrCategoryStorage && code == CodeQuotaExceeded:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *WaypostError {
	return New(ErrCategoryValidation, code, message)
}

func NewTransportError(code, message string, cause error) *WaypostError {
	return Wrap(ErrCategoryTransport, code, message, cause)
}

func NewStorageError(code, message string, cause error) *WaypostError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewGuideError(code, message string) *WaypostError {
	return New(ErrCategoryGuide, code, message)
}

func NewInternalError(message string, cause error) *WaypostError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
