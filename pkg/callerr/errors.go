// Package callerr defines the error taxonomy shared by the call media
// components: codec, carrier channel, AI channel and bridge.
//
// Codec errors are recoverable (the frame is dropped). Every other kind
// terminates the call it belongs to and nothing else.
package callerr

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout indicates the AI channel did not finish setup in time.
	ErrHandshakeTimeout = errors.New("callerr: handshake timeout")

	// ErrIdleTimeout indicates no frame or control event arrived within the
	// configured idle window.
	ErrIdleTimeout = errors.New("callerr: idle timeout")
)

// CodecError reports a malformed or undecodable audio frame.
type CodecError struct {
	// Encoding is the declared encoding of the rejected frame.
	Encoding string
	// Length is the frame length in bytes.
	Length int
	// Reason describes what was wrong.
	Reason string
	// Cause is the underlying error, if any (e.g. base64).
	Cause error
}

// Error implements the error interface.
func (e *CodecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("callerr: codec: %s (%s, %d bytes): %v", e.Reason, e.Encoding, e.Length, e.Cause)
	}
	return fmt.Sprintf("callerr: codec: %s (%s, %d bytes)", e.Reason, e.Encoding, e.Length)
}

// Unwrap returns the underlying cause.
func (e *CodecError) Unwrap() error {
	return e.Cause
}

// ChannelClosedError reports a socket closing out from under the bridge.
type ChannelClosedError struct {
	// Channel names the side that closed: "carrier" or "ai".
	Channel string
	// Cause is the read or write error that revealed the closure.
	Cause error
}

// Error implements the error interface.
func (e *ChannelClosedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("callerr: %s channel closed: %v", e.Channel, e.Cause)
	}
	return fmt.Sprintf("callerr: %s channel closed", e.Channel)
}

// Unwrap returns the underlying cause.
func (e *ChannelClosedError) Unwrap() error {
	return e.Cause
}

// ProtocolViolationError reports an out-of-sequence or malformed control
// message, such as media before start.
type ProtocolViolationError struct {
	Channel string
	Message string
	Detail  string
}

// Error implements the error interface.
func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("callerr: protocol violation on %s channel: %q: %s", e.Channel, e.Message, e.Detail)
}

// NewCodecError creates a CodecError.
func NewCodecError(encoding string, length int, reason string) *CodecError {
	return &CodecError{Encoding: encoding, Length: length, Reason: reason}
}

// NewChannelClosed creates a ChannelClosedError.
func NewChannelClosed(channel string, cause error) *ChannelClosedError {
	return &ChannelClosedError{Channel: channel, Cause: cause}
}

// NewProtocolViolation creates a ProtocolViolationError.
func NewProtocolViolation(channel, message, detail string) *ProtocolViolationError {
	return &ProtocolViolationError{Channel: channel, Message: message, Detail: detail}
}

// Error checking helpers.

// IsCodec returns true if err is a CodecError.
func IsCodec(err error) bool {
	var e *CodecError
	return errors.As(err, &e)
}

// IsChannelClosed returns true if err is a ChannelClosedError.
func IsChannelClosed(err error) bool {
	var e *ChannelClosedError
	return errors.As(err, &e)
}

// IsProtocolViolation returns true if err is a ProtocolViolationError.
func IsProtocolViolation(err error) bool {
	var e *ProtocolViolationError
	return errors.As(err, &e)
}

// IsFatal reports whether err must terminate the call.
func IsFatal(err error) bool {
	return err != nil && !IsCodec(err)
}
