package callerr

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestClassification(t *testing.T) {
	codec := NewCodecError("audio/l16", 161, "length not a multiple of sample width")
	closed := NewChannelClosed("ai", io.EOF)
	violation := NewProtocolViolation("carrier", "media", "media before start")

	tests := []struct {
		name       string
		err        error
		isCodec    bool
		isClosed   bool
		isProtocol bool
		isFatal    bool
	}{
		{"codec", codec, true, false, false, false},
		{"wrapped codec", fmt.Errorf("inbound: %w", codec), true, false, false, false},
		{"closed", closed, false, true, false, true},
		{"violation", violation, false, false, true, true},
		{"handshake", ErrHandshakeTimeout, false, false, false, true},
		{"idle", ErrIdleTimeout, false, false, false, true},
		{"nil", nil, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCodec(tt.err); got != tt.isCodec {
				t.Errorf("IsCodec = %v, want %v", got, tt.isCodec)
			}
			if got := IsChannelClosed(tt.err); got != tt.isClosed {
				t.Errorf("IsChannelClosed = %v, want %v", got, tt.isClosed)
			}
			if got := IsProtocolViolation(tt.err); got != tt.isProtocol {
				t.Errorf("IsProtocolViolation = %v, want %v", got, tt.isProtocol)
			}
			if got := IsFatal(tt.err); got != tt.isFatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.isFatal)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	closed := NewChannelClosed("carrier", io.ErrUnexpectedEOF)
	if !errors.Is(closed, io.ErrUnexpectedEOF) {
		t.Error("ChannelClosedError should unwrap to its cause")
	}
	if !strings.Contains(closed.Error(), "carrier channel closed") {
		t.Errorf("unexpected message %q", closed.Error())
	}

	codec := &CodecError{Encoding: "audio/x-mulaw", Length: 0, Reason: "bad payload", Cause: io.EOF}
	if !errors.Is(codec, io.EOF) {
		t.Error("CodecError should unwrap to its cause")
	}
	if !strings.Contains(codec.Error(), "audio/x-mulaw") {
		t.Errorf("unexpected message %q", codec.Error())
	}
}
