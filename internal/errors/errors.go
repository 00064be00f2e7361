// Package errors provides a lightweight structured error type (ClassifiedError)
// for category-based classification used by the daemon, its persistence layer
// and the CLI.
package errors

import (
	stdErrors "errors"
	"fmt"
)

// ErrorCategory represents the category of a daemon error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Lifecycle errors
	CategoryStartup ErrorCategory = "startup"
	CategorySignal  ErrorCategory = "signal"
	CategoryDaemon  ErrorCategory = "daemon"

	// Persistence and external collaborators
	CategoryIO       ErrorCategory = "io"
	CategoryExternal ErrorCategory = "external"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// ClassifiedError is a structured error with category, retryability, and context
type ClassifiedError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for ClassifiedError
type ContextFields map[string]any

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// ContextString returns a context value as a string, or "" when absent.
func (e *ClassifiedError) ContextString(key string) string {
	if e == nil || e.Context == nil {
		return ""
	}
	if s, ok := e.Context[key].(string); ok {
		return s
	}
	return ""
}

// New creates a new ClassifiedError
func New(category ErrorCategory, severity ErrorSeverity, message string) *ClassifiedError {
	return &ClassifiedError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new ClassifiedError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *ClassifiedError {
	return &ClassifiedError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// WrapRetryable creates a new retryable ClassifiedError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *ClassifiedError {
	return &ClassifiedError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// As extracts the outermost ClassifiedError from an error chain.
func As(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCategory checks if an error (or anything it wraps) belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ce, ok := As(err); ok {
		return ce.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a ClassifiedError
func GetCategory(err error) ErrorCategory {
	if ce, ok := As(err); ok {
		return ce.Category
	}
	return CategoryInternal
}
