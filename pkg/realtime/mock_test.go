package realtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockProvider(t *testing.T) {
	t.Run("connect and disconnect", func(t *testing.T) {
		m := NewMock()

		if m.IsConnected() {
			t.Error("should not be connected initially")
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("connect failed: %v", err)
		}
		if err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("double connect: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
		if m.IsConnected() {
			t.Error("should not be connected after Close")
		}
		if m.Connects() != 1 || m.Closes() != 1 {
			t.Errorf("connects=%d closes=%d", m.Connects(), m.Closes())
		}
	})

	t.Run("connect failure", func(t *testing.T) {
		m := NewMock()
		boom := errors.New("boom")
		m.ConnectFunc = func(context.Context) error { return boom }

		if err := m.Connect(context.Background()); !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if m.IsConnected() {
			t.Error("failed connect must not mark connected")
		}
	})

	t.Run("send audio requires connection", func(t *testing.T) {
		m := NewMock()
		if err := m.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}

		_ = m.Connect(context.Background())
		buf := []byte{1, 2, 3, 4}
		_ = m.SendAudio(buf)
		buf[0] = 9

		sent := m.AudioSent()
		if len(sent) != 1 || sent[0][0] != 1 {
			t.Errorf("AudioSent() = %v, want a copy of the original chunk", sent)
		}
	})

	t.Run("simulate callbacks", func(t *testing.T) {
		m := NewMock()

		var gotID string
		var closeErr error
		closed := false

		m.OnAudio(func(id string, pcm []byte) { gotID = id })
		m.OnClose(func(err error) { closed = true; closeErr = err })

		_ = m.Connect(context.Background())
		m.SimulateAudio("resp_1", []byte{0, 0})
		if gotID != "resp_1" {
			t.Errorf("response id = %q", gotID)
		}

		m.SimulateClose(nil)
		if !closed || closeErr != nil {
			t.Errorf("close fired=%v err=%v", closed, closeErr)
		}
		if m.IsConnected() {
			t.Error("SimulateClose should disconnect")
		}
	})

	t.Run("control calls", func(t *testing.T) {
		m := NewMock()
		_ = m.Connect(context.Background())

		_ = m.ConfigureSession(SessionOptions{Instructions: "hi"})
		_ = m.CommitAudio()
		_ = m.CreateResponse("greet")
		_ = m.CancelResponse()

		if m.SessionOptions() == nil || m.SessionOptions().Instructions != "hi" {
			t.Error("session options not captured")
		}
		if m.Commits() != 1 || m.Cancels() != 1 {
			t.Errorf("commits=%d cancels=%d", m.Commits(), m.Cancels())
		}
		if r := m.Responses(); len(r) != 1 || r[0] != "greet" {
			t.Errorf("responses = %v", r)
		}
	})

	t.Run("tools", func(t *testing.T) {
		m := NewMock()
		_ = m.Connect(context.Background())

		_ = m.ConfigureSession(SessionOptions{Tools: []Tool{echoTool()}})
		if len(m.Tools()) != 1 {
			t.Fatalf("tools = %v", m.Tools())
		}

		out := m.SimulateToolCall(ToolCall{CallID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`})
		if out != "sunny in Oslo" {
			t.Errorf("output = %q", out)
		}
		outs := m.ToolOutputs()
		if len(outs) != 1 || outs[0].Call.CallID != "call_1" || outs[0].Err != nil {
			t.Errorf("outputs = %+v", outs)
		}
		if r := m.Responses(); len(r) != 1 || r[0] != "" {
			t.Errorf("a tool call should request a follow-up response, got %v", r)
		}
	})

	t.Run("truncate", func(t *testing.T) {
		m := NewMock()
		if err := m.Truncate("resp_1", time.Second); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
		_ = m.Connect(context.Background())
		_ = m.Truncate("resp_1", 240*time.Millisecond)

		got := m.Truncations()
		if len(got) != 1 || got[0].ResponseID != "resp_1" || got[0].Played != 240*time.Millisecond {
			t.Errorf("truncations = %+v", got)
		}
	})
}
