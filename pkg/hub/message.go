// Package hub broadcasts call status to browser clients of the calling
// interface and accepts their start/stop commands, using a channel-based
// fan-out.
package hub

import (
	"encoding/json"
	"time"
)

// EventType names a status event sent to clients.
type EventType string

const (
	EventCallPlaced           EventType = "call_placed"
	EventCallError            EventType = "call_error"
	EventCallStatus           EventType = "call_status"
	EventMediaStreamConnected EventType = "media_stream_connected"
	EventSessionState         EventType = "session_state"
	EventTranscript           EventType = "transcript"
	EventCallEnded            EventType = "call_ended"
)

// Event is the JSON body of every status message.
type Event struct {
	Event     EventType `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	CallSID   string    `json:"callSid,omitempty"`
	StreamSID string    `json:"streamSid,omitempty"`

	// call_placed / call_status
	To     string `json:"to,omitempty"`
	Status string `json:"status,omitempty"`

	// session_state
	From  string `json:"from,omitempty"`
	State string `json:"state,omitempty"`

	// transcript
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// call_ended / call_error
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`

	Time time.Time `json:"time"`
}

// CommandType names a client command.
type CommandType string

const (
	CommandStart CommandType = "start"
	CommandStop  CommandType = "stop"
)

// Command is a request sent by a client.
type Command struct {
	Event       CommandType `json:"event"`
	PhoneNumber string      `json:"phoneNumber,omitempty"`
	CallSID     string      `json:"callSid,omitempty"`
}

// ParseCommand decodes a client frame.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
