package bridge

import (
	"time"

	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/session"
)

// Observer receives call events that do not affect audio flow. Methods are
// called from the bridge's actor goroutine and must not block.
type Observer interface {
	// StateChanged fires after every lifecycle transition.
	StateChanged(snap session.Snapshot, from, to session.State)

	// Transcript passes through caller and agent transcripts.
	Transcript(sessionID string, role realtime.Role, text string, final bool)

	// ResponseDone fires when the AI finishes a response.
	ResponseDone(sessionID, responseID, status string)

	// Ended fires once, after the session reaches Ended. err is nil unless
	// the call ended on a failure.
	Ended(snap session.Snapshot, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StateChanged(session.Snapshot, session.State, session.State) {}
func (NopObserver) Transcript(string, realtime.Role, string, bool)              {}
func (NopObserver) ResponseDone(string, string, string)                         {}
func (NopObserver) Ended(session.Snapshot, error)                               {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) StateChanged(snap session.Snapshot, from, to session.State) {
	for _, obs := range o {
		obs.StateChanged(snap, from, to)
	}
}

func (o Observers) Transcript(sessionID string, role realtime.Role, text string, final bool) {
	for _, obs := range o {
		obs.Transcript(sessionID, role, text, final)
	}
}

func (o Observers) ResponseDone(sessionID, responseID, status string) {
	for _, obs := range o {
		obs.ResponseDone(sessionID, responseID, status)
	}
}

func (o Observers) Ended(snap session.Snapshot, err error) {
	for _, obs := range o {
		obs.Ended(snap, err)
	}
}

// Drop reasons reported to Metrics.FrameDropped.
const (
	DropCodec       = "codec"
	DropInterrupted = "interrupted"
)

// Metrics receives per-call counters. Implementations must be safe for
// concurrent use: the carrier writer reports FrameOut on its own goroutine.
type Metrics interface {
	FrameIn()
	FrameOut()
	FrameDropped(reason string, n int)
	StaleChunk()
	Interruption()
	Reconnect()
	Handshake(d time.Duration)

	// CallerStopped and ResponseAudio bracket one turn: the end of caller
	// speech and the first audio of the next response.
	CallerStopped()
	ResponseAudio()
}

type nopMetrics struct{}

func (nopMetrics) FrameIn()                 {}
func (nopMetrics) FrameOut()                {}
func (nopMetrics) FrameDropped(string, int) {}
func (nopMetrics) StaleChunk()              {}
func (nopMetrics) Interruption()            {}
func (nopMetrics) Reconnect()               {}
func (nopMetrics) Handshake(time.Duration)  {}
func (nopMetrics) CallerStopped()           {}
func (nopMetrics) ResponseAudio()           {}
