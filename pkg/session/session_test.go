package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct{ closed atomic.Bool }

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func connected(t *testing.T, s *Session) {
	t.Helper()
	if err := s.AttachAI(&fakeConn{}); err != nil {
		t.Fatal(err)
	}
	mustMove(t, s, Connected)
}

func mustMove(t *testing.T, s *Session, to State) {
	t.Helper()
	changed, err := s.Transition(to)
	if err != nil || !changed {
		t.Fatalf("Transition(%s) from %s = %v, %v", to, s.State(), changed, err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Ringing, "ringing"},
		{Connected, "connected"},
		{Conversing, "conversing"},
		{Interrupted, "interrupted"},
		{Ending, "ending"},
		{Ended, "ended"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestHappyPath(t *testing.T) {
	s := New("call-1", "MZ1", "CA123")

	if s.State() != Ringing {
		t.Fatalf("initial state = %s, want ringing", s.State())
	}
	if s.HasAIConnection() {
		t.Error("no AI connection expected while ringing")
	}

	connected(t, s)
	if !s.HasAIConnection() {
		t.Error("AI connection expected once connected")
	}

	mustMove(t, s, Conversing)
	mustMove(t, s, Interrupted)
	mustMove(t, s, Conversing)
	mustMove(t, s, Ending)

	if s.HasAIConnection() {
		t.Error("AI connection must be released when ending")
	}
	if s.Reason() != "" {
		t.Error("reason must not be set before Ended")
	}

	changed, err := s.End(ReasonCallerHangup)
	if err != nil || !changed {
		t.Fatalf("End() = %v, %v", changed, err)
	}

	want := []State{Ringing, Connected, Conversing, Interrupted, Conversing, Ending, Ended}
	got := s.History()
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testing.T, *Session)
		to    State
	}{
		{"ringing to conversing", func(*testing.T, *Session) {}, Conversing},
		{"ringing to interrupted", func(*testing.T, *Session) {}, Interrupted},
		{"connected to interrupted", connected, Interrupted},
		{"direct to ended", connected, Ended},
		{"back to ringing", connected, Ringing},
		{"ending to conversing", func(t *testing.T, s *Session) { mustMove(t, s, Ending) }, Conversing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("id", "MZ", "CA")
			tt.setup(t, s)
			before := s.State()

			changed, err := s.Transition(tt.to)
			if changed || !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(%s) = %v, %v; want ErrInvalidTransition", tt.to, changed, err)
			}
			if s.State() != before {
				t.Errorf("state changed to %s on invalid transition", s.State())
			}
		})
	}
}

func TestConnectedRequiresAI(t *testing.T) {
	s := New("id", "MZ", "CA")
	if _, err := s.Transition(Connected); !errors.Is(err, ErrNoAIConnection) {
		t.Errorf("expected ErrNoAIConnection, got %v", err)
	}

	connected(t, s)
	if err := s.AttachAI(&fakeConn{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("attaching after Ringing should fail, got %v", err)
	}
}

func TestTerminalIdempotence(t *testing.T) {
	s := New("id", "MZ", "CA")
	connected(t, s)
	mustMove(t, s, Ending)

	// Repeated terminal signals while Ending.
	if changed, err := s.Transition(Ending); changed || err != nil {
		t.Errorf("repeat Ending = %v, %v", changed, err)
	}

	if _, err := s.End(ReasonTimeout); err != nil {
		t.Fatal(err)
	}

	// And after Ended.
	for i := 0; i < 3; i++ {
		if changed, err := s.Transition(Ending); changed || err != nil {
			t.Errorf("Ending after Ended = %v, %v", changed, err)
		}
		if changed, err := s.End(ReasonCallerHangup); changed || err != nil {
			t.Errorf("End after Ended = %v, %v", changed, err)
		}
	}

	if s.Reason() != ReasonTimeout {
		t.Errorf("reason = %q, want timeout (first reason wins)", s.Reason())
	}
	if s.State() != Ended {
		t.Errorf("state = %s, want ended", s.State())
	}

	// No way out of Ended.
	for _, to := range []State{Ringing, Connected, Conversing, Interrupted} {
		if changed, _ := s.Transition(to); changed {
			t.Errorf("transitioned out of Ended to %s", to)
		}
	}
}

func TestEndRequiresEnding(t *testing.T) {
	s := New("id", "MZ", "CA")
	connected(t, s)

	if _, err := s.End(ReasonError); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("End from connected = %v, want ErrInvalidTransition", err)
	}
	if s.Reason() != "" {
		t.Error("reason set without reaching Ended")
	}

	mustMove(t, s, Ending)
	if _, err := s.End("hung_up_by_gremlins"); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("unknown reason = %v, want ErrInvalidReason", err)
	}
}

func TestEndingFromRinging(t *testing.T) {
	s := New("id", "MZ", "CA")
	mustMove(t, s, Ending)
	if _, err := s.End(ReasonError); err != nil {
		t.Fatal(err)
	}
	if s.State() != Ended || s.Reason() != ReasonError {
		t.Errorf("state/reason = %s/%s", s.State(), s.Reason())
	}
}

func TestActivityAndSpeech(t *testing.T) {
	c := newClock()
	s := New("id", "MZ", "CA", WithClock(c.now))

	c.advance(3 * time.Second)
	if got := s.IdleFor(); got != 3*time.Second {
		t.Errorf("IdleFor() = %v, want 3s", got)
	}
	s.Touch()
	if got := s.IdleFor(); got != 0 {
		t.Errorf("IdleFor() after Touch = %v, want 0", got)
	}

	if !s.SetCallerSpeaking(true) {
		t.Error("first SetCallerSpeaking(true) should report a change")
	}
	if s.SetCallerSpeaking(true) {
		t.Error("repeat SetCallerSpeaking(true) should not report a change")
	}
	c.advance(time.Second)
	if got := s.CallerQuietFor(); got != 0 {
		t.Errorf("CallerQuietFor() while speaking = %v", got)
	}

	s.SetCallerSpeaking(false)
	c.advance(700 * time.Millisecond)
	if got := s.CallerQuietFor(); got != 700*time.Millisecond {
		t.Errorf("CallerQuietFor() = %v, want 700ms", got)
	}
}

func TestGenerations(t *testing.T) {
	s := New("id", "MZ", "CA")
	connected(t, s)

	g1, fresh := s.Open("resp_g1")
	if !fresh || g1 != 1 {
		t.Fatalf("Open(g1) = %d, %v", g1, fresh)
	}
	if again, fresh := s.Open("resp_g1"); again != g1 || fresh {
		t.Errorf("repeat Open(g1) = %d, %v", again, fresh)
	}
	if !s.Accepts(g1) {
		t.Error("current generation should be accepted")
	}

	if cancelled := s.CancelGeneration(); cancelled != g1 {
		t.Errorf("CancelGeneration() = %d, want %d", cancelled, g1)
	}
	if s.Accepts(g1) {
		t.Error("cancelled generation must not be accepted")
	}

	g2, fresh := s.Open("resp_g2")
	if !fresh || g2 != 2 {
		t.Fatalf("Open(g2) = %d, %v", g2, fresh)
	}
	if !s.Accepts(g2) {
		t.Error("new generation should be accepted")
	}

	// A late chunk from g1 still maps to g1 and stays rejected.
	if late, ok := s.Lookup("resp_g1"); !ok || s.Accepts(late) {
		t.Error("late g1 chunk accepted after g2 started")
	}

	// g2 completed normally; its queued audio keeps playing after g3 opens.
	g3, _ := s.Open("resp_g3")
	if !s.Accepts(g2) || !s.Accepts(g3) {
		t.Error("uncancelled generations should be accepted")
	}
	if s.Accepts(g3 + 1) {
		t.Error("a generation that has not been opened must not be accepted")
	}
}

func TestOpenForgetsOldResponses(t *testing.T) {
	s := New("id", "MZ", "CA")
	for i := 0; i < maxTrackedResponses+4; i++ {
		s.Open(string(rune('a' + i)))
	}
	if len(s.responses) != maxTrackedResponses {
		t.Errorf("tracked responses = %d, want %d", len(s.responses), maxTrackedResponses)
	}
	if _, ok := s.Lookup("a"); ok {
		t.Error("oldest response should be forgotten")
	}
}

func TestLookupDoesNotOpen(t *testing.T) {
	s := New("id", "MZ", "CA")
	connected(t, s)

	if _, ok := s.Lookup("resp_unknown"); ok {
		t.Fatal("Lookup reported an id that was never opened")
	}
	if g := s.Generation(); g != 0 {
		t.Errorf("Generation() = %d after Lookup, want 0", g)
	}

	g1, _ := s.Open("resp_1")
	if got, ok := s.Lookup("resp_1"); !ok || got != g1 {
		t.Errorf("Lookup(resp_1) = %d, %v, want %d, true", got, ok, g1)
	}
}

func TestEndClearsPending(t *testing.T) {
	s := New("id", "MZ", "CA", WithQueueCapacity(4))
	s.Pending().Push(Frame{Generation: 1, Payload: []byte{1}})
	mustMove(t, s, Ending)
	_, _ = s.End(ReasonCallerHangup)

	if s.Pending().Len() != 0 {
		t.Error("pending audio must be discarded at Ended")
	}
}

func TestSnapshot(t *testing.T) {
	c := newClock()
	s := New("call-9", "MZ9", "CA9", WithClock(c.now))
	connected(t, s)
	c.advance(2 * time.Second)

	snap := s.Snapshot()
	if snap.ID != "call-9" || snap.StreamSID != "MZ9" || snap.CallSID != "CA9" {
		t.Errorf("ids = %+v", snap)
	}
	if snap.State != "connected" {
		t.Errorf("State = %q", snap.State)
	}
	if snap.Duration != 2*time.Second {
		t.Errorf("Duration = %v", snap.Duration)
	}

	changes := s.Changes()
	if len(changes) != 1 || changes[0].From != Ringing || changes[0].To != Connected {
		t.Errorf("Changes() = %+v", changes)
	}
}
