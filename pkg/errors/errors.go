// Package errors provides a structured error system for the picture loader with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for loader operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Key derivation errors
	ErrCodeHashUnavailable ErrorCode = "HASH_UNAVAILABLE"

	// Network errors
	ErrCodeFetchFailed      ErrorCode = "FETCH_FAILED"
	ErrCodeFetchUnsupported ErrorCode = "FETCH_UNSUPPORTED_LOCATOR"

	// Disk cache errors
	ErrCodeDiskUnavailable ErrorCode = "DISK_UNAVAILABLE"
	ErrCodeDiskWriteBusy   ErrorCode = "DISK_WRITE_BUSY"
	ErrCodeDiskIO          ErrorCode = "DISK_IO"
	ErrCodeDiskClosed      ErrorCode = "DISK_CLOSED"

	// Decode errors
	ErrCodeDecodeFailed ErrorCode = "DECODE_FAILED"

	// State errors
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryKey           ErrorCategory = "key"
	CategoryNetwork       ErrorCategory = "network"
	CategoryDisk          ErrorCategory = "disk"
	CategoryDecode        ErrorCategory = "decode"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// LoaderError represents a structured error with context and metadata.
type LoaderError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Fatal errors stop construction; everything else is recovered and logged.
	Fatal bool `json:"fatal"`
}

// Error implements the error interface.
func (e *LoaderError) Error() string {
	msg := e.Message
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

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *LoaderError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *LoaderError) Is(target error) bool {
	if other, ok := target.(*LoaderError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *LoaderError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Fatal {
		parts = append(parts, "Fatal=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("LoaderError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new loader error with default values.
func NewError(code ErrorCode, message string) *LoaderError {
	return &LoaderError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Fatal:     IsFatalByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "HASH_"):
		return CategoryKey
	case strings.HasPrefix(codeStr, "FETCH_"):
		return CategoryNetwork
	case strings.HasPrefix(codeStr, "DISK_"):
		return CategoryDisk
	case strings.HasPrefix(codeStr, "DECODE_"):
		return CategoryDecode
	case strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsFatalByDefault reports whether an error aborts construction instead of
// being recovered per request.
func IsFatalByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeHashUnavailable, ErrCodeInvalidConfig:
		return true
	default:
		return false
	}
}

// IsCode reports whether any error in err's chain is a LoaderError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &LoaderError{Code: code})
}

// CodeOf returns the code of the first LoaderError in err's chain, or an empty code.
func CodeOf(err error) ErrorCode {
	var le *LoaderError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ""
}

// WithContext adds contextual information to an error
func (e *LoaderError) WithContext(key, value string) *LoaderError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *LoaderError) WithDetail(key string, value interface{}) *LoaderError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *LoaderError) WithComponent(component string) *LoaderError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *LoaderError) WithOperation(operation string) *LoaderError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *LoaderError) WithCause(cause error) *LoaderError {
	e.Cause = cause
	return e
}

// Wrap creates an error with the given code around cause.
func Wrap(cause error, code ErrorCode, message string) *LoaderError {
	return NewError(code, message).WithCause(cause)
}
