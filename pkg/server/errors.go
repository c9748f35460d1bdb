package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	// Error contains the error details.
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error. Admission denials use the denial reason
	// (rate_limited, quota_exceeded, quota_unavailable).
	Type string `json:"type"`

	// Param is the request field that caused the error, if any.
	Param string `json:"param,omitempty"`
}

// Error type constants.
const (
	// ErrorTypeInvalidRequest indicates a client-side error (400).
	ErrorTypeInvalidRequest = "invalid_request_error"

	// ErrorTypeAuthentication indicates a missing or wrong service token (401).
	ErrorTypeAuthentication = "authentication_error"

	// ErrorTypeNotFound indicates an unknown route (404).
	ErrorTypeNotFound = "not_found"

	// ErrorTypeMethodNotAllowed indicates a known route with the wrong method (405).
	ErrorTypeMethodNotAllowed = "method_not_allowed"

	// ErrorTypeTooManyRequests indicates the ingress limiter rejected the
	// client (429). Tenant denials use their own reason instead.
	ErrorTypeTooManyRequests = "too_many_requests"

	// ErrorTypeServerError indicates an internal server error (500).
	ErrorTypeServerError = "server_error"

	// ErrorTypeServiceUnavailable indicates a storage failure (503).
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// NewErrorResponse creates a new error response.
func NewErrorResponse(message, errorType, param string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorDetail{
			Message: message,
			Type:    errorType,
			Param:   param,
		},
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, errorType, message, param string) {
	writeJSON(w, status, NewErrorResponse(message, errorType, param))
}

// writeJSON encodes body as the response. Encoding errors are logged only;
// the status line has already been sent.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
