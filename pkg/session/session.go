package session

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultQueueCapacity is 5 seconds of 20 ms frames.
const DefaultQueueCapacity = 250

// maxTrackedResponses bounds the response-id to generation map.
const maxTrackedResponses = 16

// Session is one phone call. A single goroutine (the call's bridge) mutates
// it; the lock exists so status readers on other goroutines see a
// consistent view.
type Session struct {
	mu sync.RWMutex

	id        string
	streamSID string
	callSID   string

	state  State
	reason TerminationReason
	ai     io.Closer

	startedAt      time.Time
	endedAt        time.Time
	lastActivityAt time.Time

	callerSpeaking  bool
	callerQuietFrom time.Time

	// Generations at or below cancelledThrough were cut off by a barge-in.
	generation       uint64
	cancelledThrough uint64
	responses        map[string]uint64
	order            []string

	pending *AudioQueue
	history []Change
	now     func() time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithQueueCapacity sets the pending audio bound.
func WithQueueCapacity(n int) Option {
	return func(s *Session) {
		s.pending = NewAudioQueue(n)
	}
}

// New creates a session in Ringing.
func New(id, streamSID, callSID string, opts ...Option) *Session {
	s := &Session{
		id:        id,
		streamSID: streamSID,
		callSID:   callSID,
		state:     Ringing,
		responses: make(map[string]uint64),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pending == nil {
		s.pending = NewAudioQueue(DefaultQueueCapacity)
	}
	now := s.now()
	s.startedAt = now
	s.lastActivityAt = now
	s.callerQuietFrom = now
	s.history = []Change{{From: Ringing, To: Ringing, At: now}}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// StreamSID returns the carrier stream id.
func (s *Session) StreamSID() string { return s.streamSID }

// CallSID returns the carrier call id.
func (s *Session) CallSID() string { return s.callSID }

// Pending returns the queue of audio awaiting playback.
func (s *Session) Pending() *AudioQueue { return s.pending }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Reason returns the termination reason, empty until Ended.
func (s *Session) Reason() TerminationReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// AttachAI hands ownership of the AI connection to the session.
// Only allowed while Ringing.
func (s *Session) AttachAI(c io.Closer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ringing {
		return fmt.Errorf("%w: attach AI in %s", ErrInvalidTransition, s.state)
	}
	s.ai = c
	return nil
}

// AI returns the attached AI connection, nil outside the active states.
func (s *Session) AI() io.Closer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ai
}

// HasAIConnection reports whether an AI connection is held.
func (s *Session) HasAIConnection() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ai != nil && s.state.Active()
}

// Transition moves to the target state. It returns changed=false and no
// error for a repeat of the current state and for any terminal signal while
// already Ending or Ended. Ended is only reachable through End.
func (s *Session) Transition(to State) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	if from == to {
		return false, nil
	}
	if from == Ended {
		if to.Terminal() {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	switch to {
	case Connected:
		if from != Ringing {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if s.ai == nil {
			return false, ErrNoAIConnection
		}
	case Conversing:
		if from != Connected && from != Interrupted {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
	case Interrupted:
		if from != Conversing {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
	case Ending:
		// Release ownership; the owner closes the handle it was given.
		s.ai = nil
	default:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	s.record(from, to)
	return true, nil
}

// End moves Ending to Ended and sets the termination reason. The reason is
// written exactly once; a repeat call after Ended is a no-op.
func (s *Session) End(reason TerminationReason) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Ended {
		return false, nil
	}
	if !reason.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if s.state != Ending {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, Ended)
	}

	s.reason = reason
	s.endedAt = s.now()
	s.pending.Clear()
	s.record(Ending, Ended)
	return true, nil
}

func (s *Session) record(from, to State) {
	s.state = to
	s.history = append(s.history, Change{From: from, To: to, At: s.now()})
}

// History returns the states visited in order, starting with Ringing.
func (s *Session) History() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, len(s.history))
	for i, c := range s.history {
		out[i] = c.To
	}
	return out
}

// Changes returns the recorded transitions with timestamps.
func (s *Session) Changes() []Change {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Change(nil), s.history[1:]...)
}

// Touch records activity now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivityAt = s.now()
	s.mu.Unlock()
}

// IdleFor returns how long the session has seen no activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.lastActivityAt)
}

// LastActivity returns the time of the last frame or control event.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// SetCallerSpeaking updates the flag and reports whether it changed.
func (s *Session) SetCallerSpeaking(speaking bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callerSpeaking == speaking {
		return false
	}
	s.callerSpeaking = speaking
	if !speaking {
		s.callerQuietFrom = s.now()
	}
	return true
}

// CallerSpeaking returns the flag.
func (s *Session) CallerSpeaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callerSpeaking
}

// CallerQuietFor returns how long the caller has been silent, zero while
// speaking.
func (s *Session) CallerQuietFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.callerSpeaking {
		return 0
	}
	return s.now().Sub(s.callerQuietFrom)
}

// Generation returns the current response generation.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Open maps a newly created AI response id to its generation. An unseen id
// opens a new generation; fresh reports whether that happened. Only the
// response's creation opens it: audio never does.
func (s *Session) Open(responseID string) (gen uint64, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.responses[responseID]; ok {
		return g, false
	}

	s.generation++
	s.responses[responseID] = s.generation
	s.order = append(s.order, responseID)
	if len(s.order) > maxTrackedResponses {
		delete(s.responses, s.order[0])
		s.order = s.order[1:]
	}
	return s.generation, true
}

// Lookup returns the generation of a response opened earlier. An id that
// was never opened, or has been forgotten, reports false.
func (s *Session) Lookup(responseID string) (gen uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gen, ok = s.responses[responseID]
	return gen, ok
}

// CancelGeneration cancels the current generation and every older one, and
// returns the current generation.
func (s *Session) CancelGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelledThrough = s.generation
	return s.generation
}

// Accepts reports whether audio from gen may be played. Older generations
// that finished normally still play; cancelled ones never do.
func (s *Session) Accepts(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Terminal() {
		return false
	}
	return gen > s.cancelledThrough && gen <= s.generation
}

// Snapshot returns a copy of the session's observable fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.endedAt
	if end.IsZero() {
		end = s.now()
	}
	return Snapshot{
		ID:             s.id,
		StreamSID:      s.streamSID,
		CallSID:        s.callSID,
		State:          s.state.String(),
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		LastActivityAt: s.lastActivityAt,
		CallerSpeaking: s.callerSpeaking,
		Generation:     s.generation,
		PendingFrames:  s.pending.Len(),
		Reason:         s.reason,
		Duration:       end.Sub(s.startedAt),
	}
}
