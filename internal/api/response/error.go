// Package response provides standardized HTTP response structures for the
// entity resolver API.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	reserrors "lerian-entity-resolver/internal/errors"
)

// ErrorCode represents standardized transport error codes. Domain failures
// use the codes of internal/errors instead.
type ErrorCode string

const (
	ErrorCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	Timestamp string       `json:"timestamp"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// SuccessResponse represents a standardized success response
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, statusCode int, code ErrorCode, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorDetails := ErrorDetails{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		errorDetails.Details = details[0]
	}

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     errorDetails,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteSuccess writes a standardized success response with status 200
func WriteSuccess(w http.ResponseWriter, data interface{}, message ...string) {
	WriteStatus(w, http.StatusOK, data, message...)
}

// WriteStatus writes a success envelope with an explicit status code
func WriteStatus(w http.ResponseWriter, statusCode int, data interface{}, message ...string) {
	resp := SuccessResponse{
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(message) > 0 {
		resp.Message = message[0]
	}

	body, err := json.Marshal(resp)
	if err != nil {
		WriteInternalError(w, "Failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// WriteFailure maps an engine error onto an HTTP response. Standard errors
// keep their code, collaborator outages become 503, anything else is a
// generic 500 with no internal detail.
func WriteFailure(w http.ResponseWriter, err error) {
	var stdErr *reserrors.StandardError
	if errors.As(err, &stdErr) {
		if stdErr.ErrorInfo.TraceID == "" {
			stdErr.WithTraceID(w.Header().Get("X-Request-ID"))
		}
		stdErr.WriteHTTPError(w)
		return
	}

	var enhanced *reserrors.EnhancedError
	if errors.As(err, &enhanced) && enhanced.IsRetryable() {
		WriteServiceUnavailable(w, "The task provider is unavailable, please try again later")
		return
	}
	WriteInternalError(w, "Internal server error")
}

// WriteBadRequest writes a 400 Bad Request error
func WriteBadRequest(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusBadRequest, ErrorCodeBadRequest, message, details...)
}

// WriteNotFound writes a 404 Not Found error
func WriteNotFound(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusNotFound, ErrorCodeNotFound, message, details...)
}

// WriteMethodNotAllowed writes a 405 Method Not Allowed error
func WriteMethodNotAllowed(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed, message, details...)
}

// WriteValidationError writes a 422 Validation Failed error
func WriteValidationError(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusUnprocessableEntity, ErrorCodeValidationFailed, message, details...)
}

// WriteInternalError writes a 500 Internal Server Error
func WriteInternalError(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusInternalServerError, ErrorCodeInternalError, message, details...)
}

// WriteServiceUnavailable writes a 503 Service Unavailable error
func WriteServiceUnavailable(w http.ResponseWriter, message string, details ...string) {
	WriteError(w, http.StatusServiceUnavailable, ErrorCodeServiceUnavailable, message, details...)
}
