package realtime

import (
	"context"
	"sync"
	"time"
)

// Mock is a Provider for tests. Set the ...Func fields to override
// behaviour and use the Simulate helpers to fire callbacks.
type Mock struct {
	mu sync.RWMutex

	connected bool
	cb        callbacks
	tools     Tools

	// Configurable behavior
	ConnectFunc          func(ctx context.Context) error
	SendAudioFunc        func(pcm []byte) error
	ConfigureSessionFunc func(opts SessionOptions) error
	CancelResponseFunc   func() error

	// Captured calls
	audioSent      [][]byte
	sessionOptions *SessionOptions
	responses      []string
	commits        int
	cancels        int
	connects       int
	closes         int
	truncations    []Truncation
	toolOutputs    []ToolOutput
}

// Truncation records one Truncate call.
type Truncation struct {
	ResponseID string
	Played     time.Duration
}

// ToolOutput records one answered tool call.
type ToolOutput struct {
	Call   ToolCall
	Output string
	Err    error
}

// NewMock creates a new Mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// Connect implements Provider.
func (m *Mock) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return ErrAlreadyConnected
	}
	m.connected = true
	m.connects++
	return nil
}

// Close implements Provider.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closes++
	return nil
}

// IsConnected implements Provider.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ConfigureSession implements Provider.
func (m *Mock) ConfigureSession(opts SessionOptions) error {
	for _, tool := range opts.Tools {
		if err := m.tools.Register(tool); err != nil {
			return err
		}
	}
	if m.ConfigureSessionFunc != nil {
		return m.ConfigureSessionFunc(opts)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.sessionOptions = &opts
	return nil
}

// SendAudio implements Provider.
func (m *Mock) SendAudio(pcm []byte) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(pcm)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.audioSent = append(m.audioSent, append([]byte(nil), pcm...))
	return nil
}

// CommitAudio implements Provider.
func (m *Mock) CommitAudio() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.commits++
	return nil
}

// CreateResponse implements Provider.
func (m *Mock) CreateResponse(instructions string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.responses = append(m.responses, instructions)
	return nil
}

// CancelResponse implements Provider.
func (m *Mock) CancelResponse() error {
	if m.CancelResponseFunc != nil {
		return m.CancelResponseFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.cancels++
	return nil
}

// Truncate implements Provider.
func (m *Mock) Truncate(responseID string, played time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.truncations = append(m.truncations, Truncation{ResponseID: responseID, Played: played})
	return nil
}

// RegisterTool implements Provider.
func (m *Mock) RegisterTool(tool Tool) error {
	return m.tools.Register(tool)
}

// OnAudio implements Provider.
func (m *Mock) OnAudio(fn func(responseID string, pcm []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.audio = fn
}

// OnAudioDone implements Provider.
func (m *Mock) OnAudioDone(fn func(responseID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.audioDone = fn
}

// OnTranscript implements Provider.
func (m *Mock) OnTranscript(fn func(role Role, text string, final bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.transcript = fn
}

// OnSpeechStarted implements Provider.
func (m *Mock) OnSpeechStarted(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.speechStarted = fn
}

// OnSpeechStopped implements Provider.
func (m *Mock) OnSpeechStopped(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.speechStopped = fn
}

// OnResponseCreated implements Provider.
func (m *Mock) OnResponseCreated(fn func(responseID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.responseCreated = fn
}

// OnResponseDone implements Provider.
func (m *Mock) OnResponseDone(fn func(responseID, status string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.responseDone = fn
}

// OnError implements Provider.
func (m *Mock) OnError(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.err = fn
}

// OnClose implements Provider.
func (m *Mock) OnClose(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb.close = fn
}

func (m *Mock) callbacks() callbacks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cb
}

// Test helpers

// SimulateAudio fires OnAudio.
func (m *Mock) SimulateAudio(responseID string, pcm []byte) {
	if fn := m.callbacks().audio; fn != nil {
		fn(responseID, pcm)
	}
}

// SimulateAudioDone fires OnAudioDone.
func (m *Mock) SimulateAudioDone(responseID string) {
	if fn := m.callbacks().audioDone; fn != nil {
		fn(responseID)
	}
}

// SimulateTranscript fires OnTranscript.
func (m *Mock) SimulateTranscript(role Role, text string, final bool) {
	if fn := m.callbacks().transcript; fn != nil {
		fn(role, text, final)
	}
}

// SimulateSpeechStarted fires OnSpeechStarted.
func (m *Mock) SimulateSpeechStarted() {
	if fn := m.callbacks().speechStarted; fn != nil {
		fn()
	}
}

// SimulateSpeechStopped fires OnSpeechStopped.
func (m *Mock) SimulateSpeechStopped() {
	if fn := m.callbacks().speechStopped; fn != nil {
		fn()
	}
}

// SimulateResponseCreated fires OnResponseCreated.
func (m *Mock) SimulateResponseCreated(responseID string) {
	if fn := m.callbacks().responseCreated; fn != nil {
		fn(responseID)
	}
}

// SimulateResponseDone fires OnResponseDone.
func (m *Mock) SimulateResponseDone(responseID, status string) {
	if fn := m.callbacks().responseDone; fn != nil {
		fn(responseID, status)
	}
}

// SimulateError fires OnError.
func (m *Mock) SimulateError(err error) {
	if fn := m.callbacks().err; fn != nil {
		fn(err)
	}
}

// SimulateToolCall answers call the way the service round trip does: the
// tool runs, its output is recorded and a follow-up response is requested.
func (m *Mock) SimulateToolCall(call ToolCall) string {
	output, err := m.tools.Call(call)
	m.mu.Lock()
	m.toolOutputs = append(m.toolOutputs, ToolOutput{Call: call, Output: output, Err: err})
	m.mu.Unlock()
	_ = m.CreateResponse("")
	return output
}

// SimulateClose drops the connection and fires OnClose, as if the remote
// side hung up.
func (m *Mock) SimulateClose(err error) {
	m.mu.Lock()
	m.connected = false
	fn := m.cb.close
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// AudioSent returns a copy of every appended chunk.
func (m *Mock) AudioSent() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.audioSent...)
}

// SessionOptions returns the last configured options, nil if none.
func (m *Mock) SessionOptions() *SessionOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionOptions
}

// Responses returns the instructions of every CreateResponse call.
func (m *Mock) Responses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.responses...)
}

// Truncations returns every Truncate call.
func (m *Mock) Truncations() []Truncation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Truncation(nil), m.truncations...)
}

// ToolOutputs returns every answered tool call.
func (m *Mock) ToolOutputs() []ToolOutput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolOutput(nil), m.toolOutputs...)
}

// Tools returns the registered tools.
func (m *Mock) Tools() []Tool {
	return m.tools.List()
}

// Commits returns the CommitAudio count.
func (m *Mock) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// Cancels returns the CancelResponse count.
func (m *Mock) Cancels() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancels
}

// Connects returns how many times Connect succeeded.
func (m *Mock) Connects() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connects
}

// Closes returns the Close count.
func (m *Mock) Closes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closes
}

// Ensure Mock implements Provider.
var _ Provider = (*Mock)(nil)
