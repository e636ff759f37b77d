package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-callbridge/pkg/callerr"
)

// OpenAI implements Provider for the OpenAI Realtime API.
type OpenAI struct {
	config *Config
	logger *slog.Logger

	mu    sync.RWMutex
	sess  *wsSession
	state ConnectionState
	cb    callbacks

	writeMu sync.Mutex

	tools Tools

	// Audio item of each recent response, for truncation.
	items     map[string]string
	itemOrder []string

	messagesSent       atomic.Int64
	messagesReceived   atomic.Int64
	audioBytesSent     atomic.Int64
	audioBytesReceived atomic.Int64
	toolCalls          atomic.Int64
	errorCount         atomic.Int64
}

// maxTrackedItems bounds the response to audio item map.
const maxTrackedItems = 16

type callbacks struct {
	audio           func(responseID string, pcm []byte)
	audioDone       func(responseID string)
	transcript      func(role Role, text string, final bool)
	speechStarted   func()
	speechStopped   func()
	responseCreated func(responseID string)
	responseDone    func(responseID, status string)
	err             func(err error)
	close           func(err error)
}

// wsSession is one dialed connection. A provider that reconnects gets a
// fresh one, so a stale read loop can never touch the new socket.
type wsSession struct {
	conn  *websocket.Conn
	done  chan struct{}
	once  sync.Once
	local atomic.Bool
}

func (s *wsSession) stop(local bool) {
	if local {
		s.local.Store(true)
	}
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// NewOpenAI creates a provider. It does not dial; call Connect.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAI{
		config: cfg,
		logger: cfg.Logger.With("component", "realtime.openai"),
		state:  StateDisconnected,
	}, nil
}

// Connect dials the service and waits for session.created.
func (o *OpenAI) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateDisconnected {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.state = StateConnecting
	o.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, o.config.HandshakeTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s?model=%s", o.config.URL, url.QueryEscape(o.config.Model))
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: o.config.HandshakeTimeout}

	o.logger.Debug("connecting", "model", o.config.Model)
	started := time.Now()

	conn, resp, err := dialer.DialContext(hctx, endpoint, headers)
	if err != nil {
		o.setState(StateDisconnected)
		if ctx.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: dial: %v", callerr.ErrHandshakeTimeout, err)
		}
		cerr := NewConnectionError("dial failed", err)
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
			_ = resp.Body.Close()
		}
		return cerr
	}

	s := &wsSession{conn: conn, done: make(chan struct{})}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))
	})

	o.mu.Lock()
	o.sess = s
	o.mu.Unlock()

	ready := make(chan struct{})
	exited := make(chan error, 1)
	go o.readLoop(s, ready, exited)

	select {
	case <-ready:
	case err := <-exited:
		o.detach(s)
		return NewConnectionError("closed during handshake", err)
	case <-hctx.Done():
		s.stop(true)
		o.detach(s)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return callerr.ErrHandshakeTimeout
	}

	o.mu.Lock()
	if o.sess != s {
		o.mu.Unlock()
		return NewConnectionError("closed during handshake", nil)
	}
	o.state = StateConnected
	o.mu.Unlock()

	if o.config.PingInterval > 0 {
		go o.keepAlive(s)
	}

	o.logger.Info("connected", "model", o.config.Model, "handshake", time.Since(started))
	return nil
}

// Close closes the current connection. OnClose is not fired.
func (o *OpenAI) Close() error {
	o.mu.Lock()
	s := o.sess
	o.sess = nil
	o.state = StateDisconnected
	o.mu.Unlock()

	if s == nil {
		return nil
	}

	o.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	o.writeMu.Unlock()

	s.stop(true)
	o.logger.Debug("disconnected")
	return nil
}

// IsConnected returns true if a ready session is open.
func (o *OpenAI) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == StateConnected
}

// Stats returns message and byte counters.
func (o *OpenAI) Stats() Stats {
	return Stats{
		MessagesSent:       o.messagesSent.Load(),
		MessagesReceived:   o.messagesReceived.Load(),
		AudioBytesSent:     o.audioBytesSent.Load(),
		AudioBytesReceived: o.audioBytesReceived.Load(),
		ToolCalls:          o.toolCalls.Load(),
		Errors:             o.errorCount.Load(),
	}
}

// ConfigureSession registers opts.Tools and sends session.update with
// every registered tool.
func (o *OpenAI) ConfigureSession(opts SessionOptions) error {
	for _, tool := range opts.Tools {
		if err := o.tools.Register(tool); err != nil {
			return err
		}
	}
	voice := opts.Voice
	if voice == "" {
		voice = o.config.Voice
	}
	cfg := sessionConfig{
		Modalities:        []string{"text", "audio"},
		Instructions:      opts.Instructions,
		Voice:             voice,
		Temperature:       opts.Temperature,
		InputAudioFormat:  orDefault(opts.InputFormat, "pcm16"),
		OutputAudioFormat: orDefault(opts.OutputFormat, "pcm16"),
	}
	if opts.TranscriptionModel != "" {
		cfg.InputAudioTranscription = &transcriptionConfig{Model: opts.TranscriptionModel}
	}
	if td := opts.TurnDetection; td != nil {
		raw, err := encodeTurnDetection(td)
		if err != nil {
			return err
		}
		cfg.TurnDetection = raw
	}
	if cfg.Tools = toolConfigs(o.tools.List()); cfg.Tools != nil {
		cfg.ToolChoice = "auto"
	}
	return o.send(clientEvent{Type: "session.update", Session: &cfg})
}

// RegisterTool adds a tool for the next session.update.
func (o *OpenAI) RegisterTool(tool Tool) error {
	return o.tools.Register(tool)
}

// SendAudio appends PCM16 audio to the input buffer.
func (o *OpenAI) SendAudio(pcm []byte) error {
	err := o.send(clientEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
	if err == nil {
		o.audioBytesSent.Add(int64(len(pcm)))
	}
	return err
}

// CommitAudio commits the input buffer.
func (o *OpenAI) CommitAudio() error {
	return o.send(clientEvent{Type: "input_audio_buffer.commit"})
}

// CreateResponse requests a response.
func (o *OpenAI) CreateResponse(instructions string) error {
	ev := clientEvent{Type: "response.create"}
	if instructions != "" {
		ev.Response = &responseConfig{Instructions: instructions}
	}
	return o.send(ev)
}

// CancelResponse cancels the response in progress.
func (o *OpenAI) CancelResponse() error {
	return o.send(clientEvent{Type: "response.cancel"})
}

// Truncate sends conversation.item.truncate for responseID's audio item.
func (o *OpenAI) Truncate(responseID string, played time.Duration) error {
	o.mu.RLock()
	itemID := o.items[responseID]
	o.mu.RUnlock()
	if itemID == "" {
		return nil
	}

	contentIndex, endMs := 0, int(played/time.Millisecond)
	return o.send(clientEvent{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: &contentIndex,
		AudioEndMs:   &endMs,
	})
}

// trackItem remembers the audio item a response is speaking into.
func (o *OpenAI) trackItem(responseID, itemID string) {
	if responseID == "" || itemID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.items == nil {
		o.items = make(map[string]string)
	}
	if _, ok := o.items[responseID]; !ok {
		o.itemOrder = append(o.itemOrder, responseID)
		if len(o.itemOrder) > maxTrackedItems {
			delete(o.items, o.itemOrder[0])
			o.itemOrder = o.itemOrder[1:]
		}
	}
	o.items[responseID] = itemID
}

// callTool answers a function call and asks for the follow-up response.
func (o *OpenAI) callTool(call ToolCall) {
	o.toolCalls.Add(1)
	output, err := o.tools.Call(call)
	if err != nil {
		o.logger.Warn("tool failed", "tool", call.Name, "call_id", call.CallID, "error", err)
	} else {
		o.logger.Debug("tool called", "tool", call.Name, "call_id", call.CallID)
	}

	if err := o.send(clientEvent{
		Type: "conversation.item.create",
		Item: &conversationItem{Type: "function_call_output", CallID: call.CallID, Output: output},
	}); err != nil {
		o.logger.Warn("send tool output", "tool", call.Name, "error", err)
		return
	}
	if err := o.CreateResponse(""); err != nil {
		o.logger.Warn("request tool follow-up", "tool", call.Name, "error", err)
	}
}

func (o *OpenAI) send(ev clientEvent) error {
	o.mu.RLock()
	s := o.sess
	state := o.state
	o.mu.RUnlock()

	if s == nil || state != StateConnected {
		return ErrNotConnected
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", ev.Type, err)
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(o.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		o.errorCount.Add(1)
		return NewConnectionError(ev.Type+" failed", err)
	}
	o.messagesSent.Add(1)
	return nil
}

func (o *OpenAI) keepAlive(s *wsSession) {
	ticker := time.NewTicker(o.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			o.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(o.config.WriteTimeout))
			o.writeMu.Unlock()
			if err != nil {
				o.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop owns the socket's read side. Before the session is ready any
// exit is reported on exited; afterwards a remote close fires OnClose.
func (o *OpenAI) readLoop(s *wsSession, ready chan<- struct{}, exited chan<- error) {
	isReady := false

	err := func() error {
		for {
			_ = s.conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				return err
			}
			o.messagesReceived.Add(1)

			var ev serverEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				o.logger.Warn("failed to parse message", "error", err)
				continue
			}

			if ev.Type == "session.created" && !isReady {
				isReady = true
				if ev.Session != nil {
					o.logger.Debug("session created", "session", ev.Session.ID)
				}
				close(ready)
				continue
			}
			o.dispatch(&ev)
		}
	}()

	s.stop(false)
	o.detach(s)

	if !isReady {
		exited <- err
		return
	}
	if s.local.Load() {
		return
	}

	if isNormalClose(err) {
		o.logger.Info("connection closed by server")
		o.emitClose(nil)
		return
	}
	o.logger.Warn("connection lost", "error", err)
	o.emitClose(NewConnectionError("read failed", err))
}

func (o *OpenAI) detach(s *wsSession) {
	o.mu.Lock()
	if o.sess == s {
		o.sess = nil
		o.state = StateDisconnected
	}
	o.mu.Unlock()
}

func (o *OpenAI) setState(st ConnectionState) {
	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
}

func (o *OpenAI) dispatch(ev *serverEvent) {
	switch ev.Type {
	case "session.updated":
		o.logger.Debug("session updated")

	case "input_audio_buffer.speech_started":
		if fn := o.callbacks().speechStarted; fn != nil {
			fn()
		}

	case "input_audio_buffer.speech_stopped":
		if fn := o.callbacks().speechStopped; fn != nil {
			fn()
		}

	case "conversation.item.input_audio_transcription.completed":
		o.emitTranscript(RoleUser, ev.Transcript, true)

	case "response.created":
		if fn := o.callbacks().responseCreated; fn != nil && ev.Response != nil {
			fn(ev.Response.ID)
		}

	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			o.errorCount.Add(1)
			o.emitError(fmt.Errorf("%w: audio delta: %v", ErrInvalidMessage, err))
			return
		}
		o.audioBytesReceived.Add(int64(len(audio)))
		o.trackItem(ev.ResponseID, ev.ItemID)
		if fn := o.callbacks().audio; fn != nil {
			fn(ev.ResponseID, audio)
		}

	case "response.audio.done":
		if fn := o.callbacks().audioDone; fn != nil {
			fn(ev.ResponseID)
		}

	case "response.audio_transcript.delta":
		o.emitTranscript(RoleAgent, ev.Delta, false)

	case "response.audio_transcript.done":
		o.emitTranscript(RoleAgent, ev.Transcript, true)

	case "response.function_call_arguments.done":
		o.callTool(ToolCall{CallID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments})

	case "response.done":
		if fn := o.callbacks().responseDone; fn != nil && ev.Response != nil {
			fn(ev.Response.ID, ev.Response.Status)
		}

	case "error":
		o.errorCount.Add(1)
		apiErr := &APIError{Message: "unknown error"}
		if ev.Error != nil {
			apiErr = &APIError{
				Type:    ev.Error.Type,
				Code:    ev.Error.Code,
				Message: ev.Error.Message,
				EventID: ev.Error.EventID,
			}
		}
		o.emitError(apiErr)
	}
}

func (o *OpenAI) callbacks() callbacks {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cb
}

func (o *OpenAI) emitTranscript(role Role, text string, final bool) {
	if fn := o.callbacks().transcript; fn != nil && text != "" {
		fn(role, text, final)
	}
}

func (o *OpenAI) emitError(err error) {
	if fn := o.callbacks().err; fn != nil {
		fn(err)
	}
}

func (o *OpenAI) emitClose(err error) {
	if fn := o.callbacks().close; fn != nil {
		fn(err)
	}
}

// OnAudio sets the audio callback.
func (o *OpenAI) OnAudio(fn func(responseID string, pcm []byte)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.audio = fn
}

// OnAudioDone sets the audio done callback.
func (o *OpenAI) OnAudioDone(fn func(responseID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.audioDone = fn
}

// OnTranscript sets the transcript callback.
func (o *OpenAI) OnTranscript(fn func(role Role, text string, final bool)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.transcript = fn
}

// OnSpeechStarted sets the speech started callback.
func (o *OpenAI) OnSpeechStarted(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.speechStarted = fn
}

// OnSpeechStopped sets the speech stopped callback.
func (o *OpenAI) OnSpeechStopped(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.speechStopped = fn
}

// OnResponseCreated sets the response created callback.
func (o *OpenAI) OnResponseCreated(fn func(responseID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.responseCreated = fn
}

// OnResponseDone sets the response done callback.
func (o *OpenAI) OnResponseDone(fn func(responseID, status string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.responseDone = fn
}

// OnError sets the error callback.
func (o *OpenAI) OnError(fn func(err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.err = fn
}

// OnClose sets the remote close callback.
func (o *OpenAI) OnClose(fn func(err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cb.close = fn
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Ensure OpenAI implements Provider.
var _ Provider = (*OpenAI)(nil)
