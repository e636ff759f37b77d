// Package session holds the per-call state: the lifecycle state machine,
// the generation counter used to discard stale AI audio, and the bounded
// queue of audio waiting to be played to the caller.
package session

import (
	"errors"
	"time"
)

// State is a call lifecycle state.
type State int

const (
	// Ringing is the state from carrier stream start until the AI handshake.
	Ringing State = iota
	// Connected means both channels are up and no audio has flowed yet.
	Connected
	// Conversing means audio is flowing.
	Conversing
	// Interrupted means the caller barged in over AI playback.
	Interrupted
	// Ending means teardown has begun.
	Ending
	// Ended is terminal.
	Ended
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Connected:
		return "connected"
	case Conversing:
		return "conversing"
	case Interrupted:
		return "interrupted"
	case Ending:
		return "ending"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Active reports whether the state holds a live AI connection.
func (s State) Active() bool {
	return s == Connected || s == Conversing || s == Interrupted
}

// Terminal reports whether the state is Ending or Ended.
func (s State) Terminal() bool {
	return s == Ending || s == Ended
}

// TerminationReason records why a call ended.
type TerminationReason string

// Termination reasons.
const (
	ReasonCallerHangup   TerminationReason = "caller_hangup"
	ReasonAIHangup       TerminationReason = "ai_hangup"
	ReasonError          TerminationReason = "error"
	ReasonTimeout        TerminationReason = "timeout"
	ReasonServerShutdown TerminationReason = "server_shutdown"
)

// Valid reports whether r is one of the known reasons.
func (r TerminationReason) Valid() bool {
	switch r {
	case ReasonCallerHangup, ReasonAIHangup, ReasonError, ReasonTimeout, ReasonServerShutdown:
		return true
	}
	return false
}

// Sentinel errors for the session package.
var (
	// ErrInvalidTransition indicates a move the lifecycle graph does not allow.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrNoAIConnection indicates Connected was requested before an AI
	// connection was attached.
	ErrNoAIConnection = errors.New("session: no AI connection attached")

	// ErrInvalidReason indicates an unknown termination reason.
	ErrInvalidReason = errors.New("session: invalid termination reason")
)

// Change is one recorded state transition.
type Change struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Snapshot is a copy of a session safe to hand to other goroutines.
type Snapshot struct {
	ID             string            `json:"id"`
	StreamSID      string            `json:"stream_sid"`
	CallSID        string            `json:"call_sid"`
	State          string            `json:"state"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        time.Time         `json:"ended_at,omitempty"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	CallerSpeaking bool              `json:"caller_speaking"`
	Generation     uint64            `json:"generation"`
	PendingFrames  int               `json:"pending_frames"`
	Reason         TerminationReason `json:"termination_reason,omitempty"`
	Duration       time.Duration     `json:"duration_ns"`
}
