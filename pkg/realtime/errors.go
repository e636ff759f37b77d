package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates the provider has no ready session.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live session.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrInvalidMessage indicates a malformed message was received.
	ErrInvalidMessage = errors.New("realtime: invalid message")
)

// Error codes the service reports for requests that raced a state change.
// They are expected around barge-in and carry no signal.
const (
	codeResponseCancelNotActive = "response_cancel_not_active"
	codeBufferTooSmall          = "input_audio_buffer_commit_empty"
)

// APIError is an error event from the service.
type APIError struct {
	// Type is the error category, e.g. "invalid_request_error".
	Type string

	// Code is the machine-readable error code.
	Code string

	// Message is the human-readable message.
	Message string

	// EventID is the client event that caused the error, if any.
	EventID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: API error: %s", e.Message)
}

// Benign reports whether the error is an expected race rather than a fault.
func (e *APIError) Benign() bool {
	return e.Code == codeResponseCancelNotActive || e.Code == codeBufferTooSmall
}

// ConnectionError is a WebSocket failure.
type ConnectionError struct {
	// Reason describes what failed.
	Reason string

	// StatusCode is the HTTP status of a failed upgrade, zero otherwise.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether reconnecting could help. Upgrades refused with
// a 4xx (bad key, unknown model) will fail the same way again.
func (e *ConnectionError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(reason string, cause error) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause}
}

// IsNotConnected returns true if err indicates no connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsRetryable returns true if reconnecting might succeed.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable()
	}
	return false
}
