package metrics

import (
	"sync"
	"time"
)

// DefaultTurnHistory is how many turns a TurnTracker keeps.
const DefaultTurnHistory = 20

// Turn is one caller/agent exchange, measured from the moment the caller
// stops speaking.
type Turn struct {
	SpeechEnd  time.Time     `json:"speech_end"`
	FirstAudio time.Time     `json:"first_audio"`
	Latency    time.Duration `json:"latency_ns"`
}

// TurnTracker measures response latency per turn. It is goroutine-safe.
type TurnTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	size    int
	current Turn
	history []Turn // Oldest first
}

// NewTurnTracker keeps the last size turns.
func NewTurnTracker(size int) *TurnTracker {
	if size <= 0 {
		size = DefaultTurnHistory
	}
	return &TurnTracker{
		now:     time.Now,
		size:    size,
		history: make([]Turn, 0, size),
	}
}

// MarkSpeechEnd starts a new turn. A second call before any audio moves the
// reference point forward, since the caller spoke again.
func (t *TurnTracker) MarkSpeechEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Turn{SpeechEnd: t.now()}
}

// MarkFirstAudio closes the open turn and returns its latency. ok is false
// when no turn was open, for example a greeting nobody asked for.
func (t *TurnTracker) MarkFirstAudio() (latency time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.SpeechEnd.IsZero() {
		return 0, false
	}
	t.current.FirstAudio = t.now()
	t.current.Latency = t.current.FirstAudio.Sub(t.current.SpeechEnd)

	t.history = append(t.history, t.current)
	if len(t.history) > t.size {
		t.history = t.history[1:]
	}
	latency = t.current.Latency
	t.current = Turn{}
	return latency, true
}

// History returns the recorded turns, oldest first.
func (t *TurnTracker) History() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, len(t.history))
	copy(out, t.history)
	return out
}

// Average returns the mean latency over the recorded turns.
func (t *TurnTracker) Average() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, turn := range t.history {
		sum += turn.Latency
	}
	return sum / time.Duration(len(t.history))
}
