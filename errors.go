package msconsole

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnknownEventType is returned by ParseEvent for a frame whose type
// is not one of the five known event kinds.
var ErrUnknownEventType = errors.New("unknown stream event type")

// MissingFieldError is returned by ParseEvent when a frame of a known
// type lacks one of its required fields.
type MissingFieldError struct {
	EventType EventType
	Field     string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s event missing required field %q", e.EventType, e.Field)
}

// APIError represents a structured error response from the backend HTTP API.
// It implements the error interface and retains the raw body so callers can
// surface exactly what the backend said.
type APIError struct {
	// Detail is the message from an HTTPException body ({"detail": ...})
	Detail string `json:"detail"`

	// ErrorMessage is the message from an {"error": ...} body, used by the
	// streaming endpoint's initialization failures
	ErrorMessage string `json:"error"`

	// StatusCode is the HTTP status code (not from JSON, set by parser)
	StatusCode int `json:"-"`

	// Body is the raw response body text
	Body string `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.message())
}

// Message returns the most specific message the backend provided.
func (e *APIError) Message() string {
	return e.message()
}

func (e *APIError) message() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	if e.Body != "" {
		return e.Body
	}
	return http.StatusText(e.StatusCode)
}

// IsNotConfigured returns true if the backend rejected the request because
// no API key is configured (HTTP 400 from the chat endpoints).
func (e *APIError) IsNotConfigured() bool {
	return e.StatusCode == http.StatusBadRequest
}

// parseAPIError builds a structured API error from an HTTP response.
// Returns nil if the response is not an error (status < 300).
func parseAPIError(resp *http.Response, body []byte) *APIError {
	if resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}

	// Attempt JSON parse - a non-JSON body is kept as raw text only
	if len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}

	return apiErr
}

// IsAPIError checks if an error is an APIError and returns it.
// Returns nil if the error is not an APIError.
func IsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
