package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCategory classifies errors for handling strategies
type ErrorCategory string

const (
	ErrorCategoryRetryable  ErrorCategory = "retryable"
	ErrorCategoryPermanent  ErrorCategory = "permanent"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryRejected   ErrorCategory = "rejected"
)

// ErrorContext provides additional context for debugging
type ErrorContext struct {
	Operation string                 `json:"operation"`
	Component string                 `json:"component"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Category  ErrorCategory          `json:"category"`
	Retryable bool                   `json:"retryable"`
}

// EnhancedError wraps errors with the component and operation that produced them
type EnhancedError struct {
	Err     error        `json:"error"`
	Context ErrorContext `json:"context"`
}

func (e *EnhancedError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Context.Component, e.Context.Operation, e.Err.Error())
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if error can be retried
func (e *EnhancedError) IsRetryable() bool {
	return e.Context.Retryable
}

// GetCategory returns error category
func (e *EnhancedError) GetCategory() ErrorCategory {
	return e.Context.Category
}

// NewEnhancedError creates a new enhanced error with context
func NewEnhancedError(err error, component, operation string, category ErrorCategory) *EnhancedError {
	return &EnhancedError{
		Err: err,
		Context: ErrorContext{
			Operation: operation,
			Component: component,
			Category:  category,
			Retryable: category == ErrorCategoryRetryable || category == ErrorCategoryTimeout,
			Timestamp: time.Now(),
		},
	}
}

// WithTraceID records the trace ID of the request that produced the error
func (e *EnhancedError) WithTraceID(traceID string) *EnhancedError {
	e.Context.TraceID = traceID
	return e
}

// WithMetadata adds metadata to error
func (e *EnhancedError) WithMetadata(key string, value interface{}) *EnhancedError {
	if e.Context.Metadata == nil {
		e.Context.Metadata = make(map[string]interface{})
	}
	e.Context.Metadata[key] = value
	return e
}

// WrapCollaboratorError wraps an error returned by the provider for one operation
func WrapCollaboratorError(err error, operation string) error {
	if err == nil {
		return nil
	}

	category := ErrorCategoryPermanent
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		category = ErrorCategoryTimeout
	case isTemporaryError(err):
		category = ErrorCategoryRetryable
	}

	return NewEnhancedError(err, "collaborator", operation, category)
}

// WrapRejection records a collaborator answer with success=false
func WrapRejection(operation string, reasons []string) error {
	msg := "operation rejected by provider"
	if len(reasons) > 0 {
		msg = strings.Join(reasons, "; ")
	}
	enhanced := NewEnhancedError(errors.New(msg), "collaborator", operation, ErrorCategoryRejected)
	enhanced.WithMetadata("reasons", reasons)
	return enhanced
}

// WrapValidationError wraps validation errors
func WrapValidationError(err error, field string) error {
	if err == nil {
		return nil
	}

	enhanced := NewEnhancedError(err, "validation", "field_validation", ErrorCategoryValidation)
	enhanced.WithMetadata("field", field)
	return enhanced
}

// IsRetryable reports whether err is an enhanced error marked retryable
func IsRetryable(err error) bool {
	var enhanced *EnhancedError
	if errors.As(err, &enhanced) {
		return enhanced.IsRetryable()
	}
	return isTemporaryError(err)
}

// isTemporaryError checks for common temporary error patterns
func isTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	temporaryPatterns := []string{
		"connection refused",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"deadline exceeded",
	}

	for _, pattern := range temporaryPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
