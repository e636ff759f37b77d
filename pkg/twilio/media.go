// Package twilio speaks the carrier side of a call: the Media Streams
// WebSocket protocol, the REST API used to place and hang up calls, and the
// TwiML that points a call at the media stream.
package twilio

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/teslashibe/go-callbridge/pkg/callerr"
)

// EventType identifies a Media Streams message.
type EventType string

const (
	// Carrier → bridge
	EventConnected EventType = "connected" // Socket open, precedes start
	EventStart     EventType = "start"     // Stream metadata
	EventMedia     EventType = "media"     // One audio frame
	EventStop      EventType = "stop"      // Stream ended
	EventMark      EventType = "mark"      // Playback reached a mark we sent
	EventDTMF      EventType = "dtmf"      // Keypad digit

	// Bridge → carrier
	EventClear EventType = "clear" // Drop buffered playback
)

// TrackInbound is the caller's audio track.
const TrackInbound = "inbound"

// Message is the envelope of every Media Streams message in both directions.
type Message struct {
	Event          EventType `json:"event"`
	SequenceNumber string    `json:"sequenceNumber,omitempty"`
	StreamSID      string    `json:"streamSid,omitempty"`

	// Set on connected.
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *Start `json:"start,omitempty"`
	Media *Media `json:"media,omitempty"`
	Stop  *Stop  `json:"stop,omitempty"`
	Mark  *Mark  `json:"mark,omitempty"`
	DTMF  *DTMF  `json:"dtmf,omitempty"`
}

// Start describes a newly started stream.
type Start struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat is the declared encoding of inbound and outbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Media carries one base64 audio frame.
type Media struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Stop is sent when the call hangs up or the stream is stopped over REST.
type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Mark names a playback position.
type Mark struct {
	Name string `json:"name"`
}

// DTMF carries a keypad digit.
type DTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// Audio decodes the base64 payload. A bad payload is a codec error: the
// frame is dropped and the call goes on.
func (m *Media) Audio(encoding string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		ce := callerr.NewCodecError(encoding, len(m.Payload), "invalid base64 payload")
		ce.Cause = err
		return nil, ce
	}
	return data, nil
}

// Inbound reports whether the frame is caller audio. An empty track is
// treated as inbound since single-track streams omit it.
func (m *Media) Inbound() bool {
	return m.Track == "" || m.Track == TrackInbound
}

// ParseMessage decodes one Media Streams text frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, callerr.NewProtocolViolation("carrier", "", fmt.Sprintf("malformed message: %v", err))
	}
	if msg.Event == "" {
		return nil, callerr.NewProtocolViolation("carrier", "", "missing event field")
	}
	return &msg, nil
}

// NewMediaMessage builds an outbound media message.
func NewMediaMessage(streamSID string, audio []byte) *Message {
	return &Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &Media{Payload: base64.StdEncoding.EncodeToString(audio)},
	}
}

// NewMarkMessage builds an outbound mark message.
func NewMarkMessage(streamSID, name string) *Message {
	return &Message{Event: EventMark, StreamSID: streamSID, Mark: &Mark{Name: name}}
}

// NewClearMessage builds a clear message, which makes the carrier drop any
// audio it has buffered for playback and return all outstanding marks.
func NewClearMessage(streamSID string) *Message {
	return &Message{Event: EventClear, StreamSID: streamSID}
}

// Bytes returns the JSON encoding.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}
