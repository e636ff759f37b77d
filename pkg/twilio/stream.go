package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/pkg/callerr"
)

// DefaultWriteTimeout bounds a single write to the carrier socket.
const DefaultWriteTimeout = 5 * time.Second

// ErrStreamStopped is returned by every send after stop was read or the
// stream was closed.
var ErrStreamStopped = errors.New("twilio: stream stopped")

// Conn is the subset of a WebSocket connection the stream needs. Both the
// gorilla and the fasthttp (fiber) socket satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Stream is one carrier media stream. Read is meant for a single reader
// goroutine; the send methods are safe for concurrent use.
type Stream struct {
	conn         Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	start   *Start

	started   atomic.Bool
	stopped   atomic.Bool
	closeOnce sync.Once

	mediaIn  atomic.Uint64
	mediaOut atomic.Uint64
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.writeTimeout = d
	}
}

// NewStream wraps an upgraded carrier socket.
func NewStream(conn Conn, opts ...StreamOption) *Stream {
	s := &Stream{conn: conn, writeTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AwaitStart reads until the start message and returns it. The connected
// preamble is skipped; media or mark before start is a protocol violation.
// If ctx ends first the socket is closed.
func (s *Stream) AwaitStart(ctx context.Context) (*Start, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		msg, err := s.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("twilio: waiting for start: %w", ctx.Err())
			}
			return nil, err
		}
		switch msg.Event {
		case EventConnected:
			continue
		case EventStart:
			return msg.Start, nil
		case EventStop:
			return nil, callerr.NewChannelClosed("carrier", ErrStreamStopped)
		default:
			return nil, callerr.NewProtocolViolation("carrier", string(msg.Event), "received before start")
		}
	}
}

// Read returns the next message. It enforces ordering: start exactly once
// and before any media. Reading stop flips the stream to stopped before
// returning so no send can race past the hangup.
func (s *Stream) Read() (*Message, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.stopped.Load() {
			return nil, callerr.NewChannelClosed("carrier", ErrStreamStopped)
		}
		return nil, callerr.NewChannelClosed("carrier", err)
	}

	msg, err := ParseMessage(data)
	if err != nil {
		return nil, err
	}

	switch msg.Event {
	case EventStart:
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return nil, callerr.NewProtocolViolation("carrier", "start", "missing streamSid")
		}
		if !s.started.CompareAndSwap(false, true) {
			return nil, callerr.NewProtocolViolation("carrier", "start", "duplicate start")
		}
		s.writeMu.Lock()
		s.start = msg.Start
		s.writeMu.Unlock()
	case EventMedia:
		if !s.started.Load() {
			return nil, callerr.NewProtocolViolation("carrier", "media", "received before start")
		}
		if msg.Media == nil {
			return nil, callerr.NewProtocolViolation("carrier", "media", "missing media body")
		}
		s.mediaIn.Add(1)
	case EventStop:
		s.stopped.Store(true)
	}
	return msg, nil
}

// StreamSID returns the carrier stream id, empty before start.
func (s *Stream) StreamSID() string {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.start == nil {
		return ""
	}
	return s.start.StreamSID
}

// Started reports whether start has been read.
func (s *Stream) Started() bool { return s.started.Load() }

// Stopped reports whether the stream refuses further sends.
func (s *Stream) Stopped() bool { return s.stopped.Load() }

// MediaIn returns the number of media messages read.
func (s *Stream) MediaIn() uint64 { return s.mediaIn.Load() }

// MediaOut returns the number of media messages written.
func (s *Stream) MediaOut() uint64 { return s.mediaOut.Load() }

// SendMedia plays one carrier-format frame to the caller.
func (s *Stream) SendMedia(audio []byte) error {
	if err := s.send(func(sid string) *Message { return NewMediaMessage(sid, audio) }); err != nil {
		return err
	}
	s.mediaOut.Add(1)
	return nil
}

// SendMark asks the carrier to echo name back once playback reaches it.
func (s *Stream) SendMark(name string) error {
	return s.send(func(sid string) *Message { return NewMarkMessage(sid, name) })
}

// Clear drops audio the carrier has buffered but not yet played.
func (s *Stream) Clear() error {
	return s.send(NewClearMessage)
}

func (s *Stream) send(build func(streamSID string) *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.stopped.Load() {
		return ErrStreamStopped
	}
	if s.start == nil {
		return callerr.NewProtocolViolation("carrier", "send", "stream not started")
	}

	data, err := build(s.start.StreamSID).Bytes()
	if err != nil {
		return fmt.Errorf("twilio: encode message: %w", err)
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return callerr.NewChannelClosed("carrier", err)
	}
	return nil
}

// Close stops the stream and closes the socket. Safe to call repeatedly.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		err = s.conn.Close()
	})
	return err
}

// IsNormalClose reports whether err is a clean WebSocket close from the
// carrier (normal closure, going away, or a close after stop).
func IsNormalClose(err error) bool {
	if errors.Is(err, ErrStreamStopped) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	// fasthttp/websocket close errors carry the same text but a different type.
	return err != nil && (strings.Contains(err.Error(), "close 1000") || strings.Contains(err.Error(), "close 1001"))
}
