package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a relay error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates the caller's request violates the contract.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeConfiguration indicates the relay is not deployed correctly.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeUpstream indicates the model API rejected or failed the call.
	ErrorTypeUpstream ErrorType = "upstream"
)

// APIError is an error the relay reports to its caller. None of them are retried.
type APIError struct {
	Type    ErrorType
	Message string

	// Err is the underlying cause, kept for logs only.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatusCode returns the HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeConfiguration, ErrorTypeUpstream:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Message: message}
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *APIError {
	return &APIError{Type: ErrorTypeConfiguration, Message: message}
}

// ErrUpstream creates an upstream error. The message embeds the upstream
// diagnostic text, which is not a stable contract.
func ErrUpstream(message string, cause error) *APIError {
	return &APIError{Type: ErrorTypeUpstream, Message: message, Err: cause}
}

// ErrorResponse is the JSON body of every non-2xx relay response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes err as {"error": message}. Errors that are not an
// *APIError are reported as a 500 with their text.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode()
		message = apiErr.Message
	}

	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
