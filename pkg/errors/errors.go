// Package errors provides the structured error kinds shared by the model
// store, loader, cache and serving API.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// Lookup errors
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"

	// Artifact errors
	ErrCodeCorruptArtifact ErrorCode = "CORRUPT_ARTIFACT"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"

	// Configuration errors
	ErrCodeCapacityMisconfigured ErrorCode = "CAPACITY_MISCONFIGURED"
	ErrCodeInvalidConfig         ErrorCode = "INVALID_CONFIG"

	// Storage errors
	ErrCodeStorageRead ErrorCode = "STORAGE_READ"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"

	// State errors
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Access errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups error codes for logging and metrics labels.
type ErrorCategory string

const (
	CategoryLookup        ErrorCategory = "lookup"
	CategoryArtifact      ErrorCategory = "artifact"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryOperation     ErrorCategory = "operation"
	CategoryState         ErrorCategory = "state"
	CategoryAccess        ErrorCategory = "access"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeNotFound:              CategoryLookup,
	ErrCodeInvalidIdentifier:     CategoryLookup,
	ErrCodeCorruptArtifact:       CategoryArtifact,
	ErrCodeInvalidInput:          CategoryArtifact,
	ErrCodeCapacityMisconfigured: CategoryConfiguration,
	ErrCodeInvalidConfig:         CategoryConfiguration,
	ErrCodeStorageRead:           CategoryStorage,
	ErrCodeOperationTimeout:      CategoryOperation,
	ErrCodeOperationCanceled:     CategoryOperation,
	ErrCodeServiceUnavailable:    CategoryState,
	ErrCodeUnauthorized:          CategoryAccess,
	ErrCodeInternalError:         CategoryInternal,
}

var statuses = map[ErrorCode]int{
	ErrCodeNotFound:              http.StatusNotFound,
	ErrCodeInvalidIdentifier:     http.StatusBadRequest,
	ErrCodeCorruptArtifact:       http.StatusUnprocessableEntity,
	ErrCodeInvalidInput:          http.StatusBadRequest,
	ErrCodeCapacityMisconfigured: http.StatusInternalServerError,
	ErrCodeInvalidConfig:         http.StatusBadRequest,
	ErrCodeStorageRead:           http.StatusBadGateway,
	ErrCodeOperationTimeout:      http.StatusGatewayTimeout,
	ErrCodeOperationCanceled:     http.StatusServiceUnavailable,
	ErrCodeServiceUnavailable:    http.StatusServiceUnavailable,
	ErrCodeUnauthorized:          http.StatusUnauthorized,
	ErrCodeInternalError:         http.StatusInternalServerError,
}

// Sentinels for errors.Is comparisons. Matching is by code, so any *Error
// carrying the same code satisfies errors.Is(err, ErrNotFound).
var (
	ErrNotFound              = &Error{Code: ErrCodeNotFound}
	ErrInvalidIdentifier     = &Error{Code: ErrCodeInvalidIdentifier}
	ErrCorruptArtifact       = &Error{Code: ErrCodeCorruptArtifact}
	ErrInvalidInput          = &Error{Code: ErrCodeInvalidInput}
	ErrCapacityMisconfigured = &Error{Code: ErrCodeCapacityMisconfigured}
	ErrInvalidConfig         = &Error{Code: ErrCodeInvalidConfig}
	ErrStorageRead           = &Error{Code: ErrCodeStorageRead}
	ErrTimeout               = &Error{Code: ErrCodeOperationTimeout}
	ErrCanceled              = &Error{Code: ErrCodeOperationCanceled}
	ErrServiceUnavailable    = &Error{Code: ErrCodeServiceUnavailable}
	ErrUnauthorized          = &Error{Code: ErrCodeUnauthorized}
)

// Error is a structured error with a code, category and operational context.
type Error struct {
	Code     ErrorCode      `json:"code"`
	Category ErrorCategory  `json:"category"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	HTTPStatus int `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// JSON returns the error encoded as JSON.
func (e *Error) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates an error with defaults derived from the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error with the given code around cause.
func Wrap(code ErrorCode, cause error, message string) *Error {
	return New(code, message).WithCause(cause)
}

// GetCategory returns the category for code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// GetDefaultHTTPStatus returns the HTTP status used when an error with code
// reaches the API boundary.
func GetDefaultHTTPStatus(code ErrorCode) int {
	if s, ok := statuses[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithDetail attaches a key/value detail.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation that failed.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalError
}

// HTTPStatusOf maps err to an HTTP status.
func HTTPStatusOf(err error) int {
	var e *Error
	if stderrors.As(err, &e) {
		if e.HTTPStatus != 0 {
			return e.HTTPStatus
		}
		return GetDefaultHTTPStatus(e.Code)
	}
	return http.StatusInternalServerError
}

// As is errors.As from the standard library, re-exported so callers that
// import this package under the name errors keep access to it.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
