// Package errors provides the error taxonomy shared by the validator, the
// resolver, the batch orchestrator and the HTTP/MCP surfaces.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents semantic error codes for consistent error handling
type ErrorCode string

const (
	// Validation errors: caught before dispatch, never reach the collaborator
	ErrorCodeValidationError ErrorCode = "VALIDATION_ERROR"
	ErrorCodeRequiredField   ErrorCode = "REQUIRED_FIELD"

	// Resolution outcome surfaced as a clarification request
	ErrorCodeNoMatchFound ErrorCode = "NO_MATCH_FOUND"

	// A single batch item was rejected or errored
	ErrorCodeOperationFailed ErrorCode = "OPERATION_FAILED"

	// Malformed top-level batch input
	ErrorCodeSystemicFailure ErrorCode = "SYSTEMIC_FAILURE"

	ErrorCodeContextStore  ErrorCode = "CONTEXT_STORE_ERROR"
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents the unified error structure across surfaces
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
}

// Error implements the Go error interface
func (e *StandardError) Error() string {
	return e.ErrorInfo.Message
}

// ErrorDetails contains the detailed error information
type ErrorDetails struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

// ValidationDetail provides specific validation error information
type ValidationDetail struct {
	Field  string      `json:"field"`
	Reason string      `json:"reason"`
	Value  interface{} `json:"value,omitempty"`
}

// NewStandardError creates a new standardized error
func NewStandardError(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewValidationError creates a validation error with field details
func NewValidationError(field, reason string, value interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeValidationError,
			Message: fmt.Sprintf("Validation failed for field '%s': %s", field, reason),
			Details: ValidationDetail{
				Field:  field,
				Reason: reason,
				Value:  value,
			},
		},
	}
}

// NewValidationErrors folds several validation messages into one error
func NewValidationErrors(messages []string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeValidationError,
			Message: "Validation failed: " + strings.Join(messages, "; "),
			Details: messages,
		},
	}
}

// NewRequiredFieldError creates an error for missing required fields
func NewRequiredFieldError(field string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeRequiredField,
			Message: fmt.Sprintf("Required field '%s' is missing", field),
			Details: ValidationDetail{
				Field:  field,
				Reason: "missing_required_field",
			},
		},
	}
}

// NewSystemicError reports a malformed top-level batch argument
func NewSystemicError(reason string, errs []string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeSystemicFailure,
			Message: "Batch rejected: " + reason,
			Details: errs,
		},
	}
}

// NewNoMatchError reports that a reference could not be resolved
func NewNoMatchError(reference string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeNoMatchFound,
			Message: fmt.Sprintf("No entity matched reference %q", reference),
			Details: map[string]interface{}{"reference": reference},
		},
	}
}

// NewContextStoreError wraps a failure of the reference context store
func NewContextStoreError(operation string, err error) *StandardError {
	details := map[string]interface{}{"operation": operation}
	if err != nil {
		details["original_error"] = err.Error()
	}
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeContextStore,
			Message: fmt.Sprintf("Reference context store failed during %s", operation),
			Details: details,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, originalError error) *StandardError {
	details := map[string]interface{}{}
	if originalError != nil {
		details["original_error"] = originalError.Error()
	}
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrorCodeInternalError,
			Message: message,
			Details: details,
		},
	}
}

// WithTraceID adds a trace ID to the error for debugging
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	e.ErrorInfo.TraceID = traceID
	return e
}

// ToHTTPStatus maps StandardError to appropriate HTTP status code
func (e *StandardError) ToHTTPStatus() int {
	switch e.ErrorInfo.Code {
	case ErrorCodeValidationError, ErrorCodeRequiredField, ErrorCodeSystemicFailure:
		return http.StatusBadRequest
	case ErrorCodeNoMatchFound:
		return http.StatusNotFound
	case ErrorCodeOperationFailed:
		return http.StatusBadGateway
	case ErrorCodeContextStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts StandardError to JSON bytes
func (e *StandardError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WriteHTTPError writes StandardError as HTTP response
func (e *StandardError) WriteHTTPError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if e.ErrorInfo.TraceID != "" {
		w.Header().Set("X-Trace-ID", e.ErrorInfo.TraceID)
	}
	w.WriteHeader(e.ToHTTPStatus())

	jsonBytes, _ := e.ToJSON()
	_, _ = w.Write(jsonBytes)
}

// IsValidationError checks if the error is a validation-related error
func IsValidationError(err *StandardError) bool {
	return err.ErrorInfo.Code == ErrorCodeValidationError ||
		err.ErrorInfo.Code == ErrorCodeRequiredField
}

// IsSystemicError checks if the error rejected a whole batch
func IsSystemicError(err *StandardError) bool {
	return err.ErrorInfo.Code == ErrorCodeSystemicFailure
}
