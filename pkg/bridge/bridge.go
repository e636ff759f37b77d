// Package bridge couples one carrier media stream to one AI realtime session.
//
// Each call runs as a small actor. A carrier reader, a carrier writer and the
// AI provider's own read goroutine feed events to a single loop, and only
// that loop mutates the call's session. Audio for the caller passes through
// a bounded queue; while it is full the loop stops taking AI events, which
// blocks the provider's callbacks and so stops reading from the AI socket.
//
// Example usage:
//
//	stream := twilio.NewStream(conn)
//	start, err := stream.AwaitStart(ctx)
//	if err != nil {
//	    return err
//	}
//	b, err := bridge.New("call-1", stream, start, ai, bridge.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	return b.Run(ctx)
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-callbridge/pkg/callerr"
	"github.com/teslashibe/go-callbridge/pkg/codec"
	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
	"github.com/teslashibe/go-callbridge/pkg/vad"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("bridge: already running")

// Stats are the per-call counters. FramesDropped counts undecodable inbound
// frames; FramesDiscarded counts queued playback thrown away on barge-in.
type Stats struct {
	FramesIn        uint64 `json:"frames_in"`
	FramesOut       uint64 `json:"frames_out"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesDiscarded uint64 `json:"frames_discarded"`
	StaleChunks     uint64 `json:"stale_chunks"`
	Interruptions   uint64 `json:"interruptions"`
	Reconnects      uint64 `json:"reconnects"`
}

type counters struct {
	framesIn, framesOut, dropped, discarded atomic.Uint64
	stale, interruptions, reconnects        atomic.Uint64
}

type carrierEvent struct {
	msg *twilio.Message
	err error
}

type aiKind int

const (
	aiAudio aiKind = iota
	aiAudioDone
	aiTranscript
	aiSpeechStarted
	aiSpeechStopped
	aiResponseCreated
	aiResponseDone
	aiError
	aiClosed
)

type aiEvent struct {
	kind       aiKind
	responseID string
	status     string
	pcm        []byte
	role       realtime.Role
	text       string
	final      bool
	err        error
}

// markInfo is a playback mark waiting for its echo: how much of its
// response's audio has played once the carrier reaches it.
type markInfo struct {
	responseID string
	end        time.Duration
}

// playback tracks the response the caller is hearing.
type playback struct {
	responseID  string
	sent, heard time.Duration
}

type connectResult struct {
	err  error
	took time.Duration
}

// Bridge runs one call. Create it with New and drive it with Run.
type Bridge struct {
	cfg     Config
	log     *slog.Logger
	stream  *twilio.Stream
	ai      realtime.Provider
	sess    *session.Session
	adapter *codec.Adapter
	vad     *vad.Detector

	carrierCh chan carrierEvent
	aiCh      chan aiEvent
	connectCh chan connectResult
	hangupCh  chan session.TerminationReason
	writeErr  chan error
	kick      chan struct{}
	drained   chan struct{}
	done      chan struct{}

	running atomic.Bool
	stats   counters

	// playMu orders playback against barge-in and hangup: once either
	// returns, the writer can no longer send audio they invalidated.
	playMu sync.Mutex
	hungUp bool

	// Owned by the actor goroutine.
	marks           map[string]markInfo
	playback        playback
	ctx             context.Context
	group           *errgroup.Group
	backlog         []session.Frame
	inbound         []byte
	inboundSince    time.Time
	aiSpeaking      bool
	carrierSpeaking bool
	responding      string
	heardGen        uint64
	markSeq         int
	reconnecting    bool
	attempts        int
	decodeErrors    []time.Time
	ended           bool
	endErr          error
}

// New creates a bridge for a carrier stream that has already delivered its
// start message. The session starts in Ringing.
func New(id string, stream *twilio.Stream, start *twilio.Start, ai realtime.Provider, cfg Config) (*Bridge, error) {
	if stream == nil || start == nil || ai == nil {
		return nil, errors.New("bridge: stream, start and provider are required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	carrier, err := codec.FormatFromMedia(start.MediaFormat.Encoding, start.MediaFormat.SampleRate)
	if err != nil {
		return nil, callerr.NewProtocolViolation("carrier", "start", err.Error())
	}
	adapter, err := codec.NewAdapter(carrier, codec.PCM16_24k)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithQueueCapacity(cfg.QueueCapacity)}
	if cfg.Clock != nil {
		opts = append(opts, session.WithClock(cfg.Clock))
	}

	b := &Bridge{
		cfg:     cfg,
		stream:  stream,
		ai:      ai,
		sess:    session.New(id, start.StreamSID, start.CallSID, opts...),
		adapter: adapter,

		carrierCh: make(chan carrierEvent, 32),
		aiCh:      make(chan aiEvent, 8),
		connectCh: make(chan connectResult),
		hangupCh:  make(chan session.TerminationReason, 1),
		writeErr:  make(chan error, 1),
		kick:      make(chan struct{}, 1),
		drained:   make(chan struct{}, 1),
		done:      make(chan struct{}),

		marks: make(map[string]markInfo),
	}
	b.log = cfg.Logger.With(
		"component", "bridge",
		"session_id", id,
		"stream_sid", start.StreamSID,
		"call_sid", start.CallSID,
	)

	if cfg.VADSource.usesCarrier() {
		if b.vad, err = vad.New(cfg.VAD); err != nil {
			return nil, fmt.Errorf("bridge: %w", err)
		}
	}
	return b, nil
}

// Session returns the call's session. Only read from it.
func (b *Bridge) Session() *session.Session { return b.sess }

// Done is closed when Run returns.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Stats returns a snapshot of the call counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesIn:        b.stats.framesIn.Load(),
		FramesOut:       b.stats.framesOut.Load(),
		FramesDropped:   b.stats.dropped.Load(),
		FramesDiscarded: b.stats.discarded.Load(),
		StaleChunks:     b.stats.stale.Load(),
		Interruptions:   b.stats.interruptions.Load(),
		Reconnects:      b.stats.reconnects.Load(),
	}
}

// Hangup asks the call to end with reason. It does not wait; Done closes
// once teardown is complete. Repeated calls are ignored.
func (b *Bridge) Hangup(reason session.TerminationReason) {
	select {
	case b.hangupCh <- reason:
	default:
	}
}

// Run drives the call until it ends and returns the error that ended it,
// or nil for a hangup from either side or a shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(b.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	b.ctx = gctx
	b.group = g
	b.bindAI()

	b.log.Info("call started", "encoding", b.adapter.CarrierFormat().Encoding, "vad", b.cfg.VADSource)

	g.Go(func() error {
		b.readCarrier(gctx)
		return nil
	})
	g.Go(func() error {
		b.writeCarrier(gctx)
		return nil
	})
	b.dial(0)
	g.Go(func() error {
		defer cancel()
		return b.loop(gctx)
	})

	return g.Wait()
}

func (b *Bridge) bindAI() {
	b.ai.OnAudio(func(id string, pcm []byte) {
		b.post(aiEvent{kind: aiAudio, responseID: id, pcm: pcm})
	})
	b.ai.OnAudioDone(func(id string) {
		b.post(aiEvent{kind: aiAudioDone, responseID: id})
	})
	b.ai.OnTranscript(func(role realtime.Role, text string, final bool) {
		b.post(aiEvent{kind: aiTranscript, role: role, text: text, final: final})
	})
	b.ai.OnSpeechStarted(func() {
		b.post(aiEvent{kind: aiSpeechStarted})
	})
	b.ai.OnSpeechStopped(func() {
		b.post(aiEvent{kind: aiSpeechStopped})
	})
	b.ai.OnResponseCreated(func(id string) {
		b.post(aiEvent{kind: aiResponseCreated, responseID: id})
	})
	b.ai.OnResponseDone(func(id, status string) {
		b.post(aiEvent{kind: aiResponseDone, responseID: id, status: status})
	})
	b.ai.OnError(func(err error) {
		b.post(aiEvent{kind: aiError, err: err})
	})
	b.ai.OnClose(func(err error) {
		b.post(aiEvent{kind: aiClosed, err: err})
	})
}

// post blocks until the actor takes the event. This is the backpressure
// path: the provider stops reading its socket while we are full.
func (b *Bridge) post(ev aiEvent) {
	select {
	case b.aiCh <- ev:
	case <-b.done:
	}
}

func (b *Bridge) readCarrier(ctx context.Context) {
	for {
		msg, err := b.stream.Read()
		select {
		case b.carrierCh <- carrierEvent{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Bridge) writeCarrier(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.kick:
		}
		for {
			f, ok := b.sess.Pending().Pop()
			if !ok {
				break
			}
			b.play(f)
			select {
			case b.drained <- struct{}{}:
			default:
			}
		}
	}
}

func (b *Bridge) play(f session.Frame) {
	b.playMu.Lock()
	defer b.playMu.Unlock()

	if b.hungUp || !b.sess.Accepts(f.Generation) {
		if len(f.Payload) > 0 {
			b.stats.stale.Add(1)
			b.cfg.Metrics.StaleChunk()
		}
		return
	}

	var err error
	if f.Mark != "" {
		err = b.stream.SendMark(f.Mark)
	} else if err = b.stream.SendMedia(f.Payload); err == nil {
		b.stats.framesOut.Add(1)
		b.cfg.Metrics.FrameOut()
	}
	if err != nil && !errors.Is(err, twilio.ErrStreamStopped) {
		select {
		case b.writeErr <- err:
		default:
		}
	}
}

// dial connects the AI in the background and reports on connectCh.
// attempt > 0 waits ReconnectDelay first.
func (b *Bridge) dial(attempt int) {
	ctx := b.ctx
	b.group.Go(func() error {
		if attempt > 0 && b.cfg.ReconnectDelay > 0 {
			t := time.NewTimer(b.cfg.ReconnectDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}

		started := time.Now()
		err := b.connect(ctx)
		res := connectResult{err: err, took: time.Since(started)}

		select {
		case b.connectCh <- res:
		case <-ctx.Done():
			if err == nil {
				_ = b.ai.Close()
			}
		}
		return nil
	})
}

func (b *Bridge) connect(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, b.cfg.HandshakeTimeout)
	defer cancel()

	if err := b.ai.Connect(hctx); err != nil {
		if ctx.Err() == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) && !errors.Is(err, callerr.ErrHandshakeTimeout) {
			return fmt.Errorf("%w: %w", callerr.ErrHandshakeTimeout, err)
		}
		return err
	}
	if err := b.ai.ConfigureSession(b.cfg.Session); err != nil {
		_ = b.ai.Close()
		return fmt.Errorf("bridge: configure AI session: %w", err)
	}
	return nil
}

func (b *Bridge) loop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for !b.ended {
		// Stop taking AI audio while frames wait for queue space.
		aiCh := b.aiCh
		if len(b.backlog) > 0 {
			aiCh = nil
		}

		select {
		case <-ctx.Done():
			b.terminate(session.ReasonServerShutdown, nil)
		case reason := <-b.hangupCh:
			b.terminate(reason, nil)
		case ev := <-b.carrierCh:
			b.handleCarrier(ev)
		case ev := <-aiCh:
			b.handleAI(ev)
		case res := <-b.connectCh:
			b.handleConnect(res)
		case err := <-b.writeErr:
			b.terminate(session.ReasonError, err)
		case <-b.drained:
			b.flushBacklog()
		case <-ticker.C:
			b.tick()
		}
	}
	return b.endErr
}

func (b *Bridge) tick() {
	b.flushBacklog()

	if len(b.inbound) > 0 && time.Since(b.inboundSince) >= b.cfg.InboundChunk {
		b.flushInbound()
	}

	if b.sess.IdleFor() >= b.cfg.IdleTimeout {
		b.log.Info("idle timeout", "idle", b.sess.IdleFor())
		b.terminate(session.ReasonTimeout, callerr.ErrIdleTimeout)
		return
	}

	if b.sess.State() == session.Interrupted && !b.sess.CallerSpeaking() &&
		b.sess.CallerQuietFor() >= b.cfg.QuietPeriod {
		b.transition(session.Conversing)
	}
}

// Carrier side

func (b *Bridge) handleCarrier(ev carrierEvent) {
	if ev.err != nil {
		b.carrierFailed(ev.err)
		return
	}
	b.sess.Touch()

	msg := ev.msg
	switch msg.Event {
	case twilio.EventMedia:
		b.handleMedia(msg.Media)
	case twilio.EventStop:
		b.log.Info("carrier stop received")
		b.terminate(session.ReasonCallerHangup, nil)
	case twilio.EventMark:
		if msg.Mark != nil {
			b.markPlayed(msg.Mark.Name)
		}
	case twilio.EventDTMF:
		if msg.DTMF != nil {
			b.log.Debug("dtmf", "digit", msg.DTMF.Digit)
		}
	}
}

// markPlayed records the carrier reaching a mark. Echoes of marks cleared
// by a barge-in are unknown and ignored.
func (b *Bridge) markPlayed(name string) {
	m, ok := b.marks[name]
	if !ok {
		return
	}
	delete(b.marks, name)
	if m.responseID == b.playback.responseID && m.end > b.playback.heard {
		b.playback.heard = m.end
	}
}

func (b *Bridge) carrierFailed(err error) {
	switch {
	case b.stream.Stopped() || twilio.IsNormalClose(err):
		b.log.Info("carrier closed")
		b.terminate(session.ReasonCallerHangup, nil)
	case callerr.IsProtocolViolation(err):
		b.log.Warn("carrier protocol violation", "error", err)
		b.terminate(session.ReasonError, err)
	default:
		b.log.Warn("carrier connection lost", "error", err)
		b.terminate(session.ReasonError, err)
	}
}

func (b *Bridge) handleMedia(m *twilio.Media) {
	if !m.Inbound() {
		return
	}
	b.stats.framesIn.Add(1)
	b.cfg.Metrics.FrameIn()

	enc := b.adapter.CarrierFormat().Encoding
	frame, err := m.Audio(enc)
	if err != nil {
		b.dropFrame(err)
		return
	}

	if b.vad != nil {
		samples, err := b.adapter.Decode(frame)
		if err != nil {
			b.dropFrame(err)
			return
		}
		switch b.vad.Process(samples) {
		case vad.Started:
			b.carrierSpeaking = true
			b.updateSpeaking()
		case vad.Stopped:
			b.carrierSpeaking = false
			b.updateSpeaking()
		}
	}

	chunks, err := b.adapter.ToAIFormat(frame)
	if err != nil {
		b.dropFrame(err)
		return
	}

	if b.reconnecting || !b.sess.HasAIConnection() {
		return
	}
	if b.sess.State() == session.Connected {
		b.transition(session.Conversing)
	}

	if len(b.inbound) == 0 {
		b.inboundSince = time.Now()
	}
	for _, c := range chunks {
		b.inbound = append(b.inbound, c...)
	}
	if len(b.inbound) >= codec.PCM16_24k.BytesFor(b.cfg.InboundChunk) {
		b.flushInbound()
	}
}

func (b *Bridge) flushInbound() {
	if len(b.inbound) == 0 {
		return
	}
	err := b.ai.SendAudio(b.inbound)
	b.inbound = nil
	if err != nil && !realtime.IsNotConnected(err) {
		b.log.Warn("send audio failed", "error", err)
	}
}

// dropFrame discards one undecodable frame. Too many in a short window ends
// the call.
func (b *Bridge) dropFrame(err error) {
	b.stats.dropped.Add(1)
	b.cfg.Metrics.FrameDropped(DropCodec, 1)
	b.log.Debug("dropped inbound frame", "error", err)

	now := time.Now()
	cutoff := now.Add(-b.cfg.DecodeErrorWindow)
	kept := b.decodeErrors[:0]
	for _, t := range b.decodeErrors {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.decodeErrors = append(kept, now)

	if len(b.decodeErrors) > b.cfg.DecodeErrorThreshold {
		b.log.Warn("too many undecodable frames", "count", len(b.decodeErrors), "window", b.cfg.DecodeErrorWindow)
		b.terminate(session.ReasonError,
			fmt.Errorf("bridge: %d decode failures within %s: %w", len(b.decodeErrors), b.cfg.DecodeErrorWindow, err))
	}
}

// AI side

func (b *Bridge) handleAI(ev aiEvent) {
	if ev.kind != aiError {
		b.sess.Touch()
	}

	switch ev.kind {
	case aiAudio:
		b.handleAudio(ev.responseID, ev.pcm)

	case aiAudioDone:
		gen, ok := b.sess.Lookup(ev.responseID)
		if !ok || !b.sess.Accepts(gen) {
			return
		}
		if tail := b.adapter.FlushCarrier(); tail != nil {
			b.enqueue(gen, [][]byte{tail})
		}

	case aiResponseCreated:
		b.openResponse(ev.responseID)

	case aiResponseDone:
		if ev.responseID == b.responding {
			b.responding = ""
		}
		b.cfg.Observer.ResponseDone(b.sess.ID(), ev.responseID, ev.status)

	case aiTranscript:
		b.cfg.Observer.Transcript(b.sess.ID(), ev.role, ev.text, ev.final)

	case aiSpeechStarted:
		if b.cfg.VADSource.usesAI() {
			b.aiSpeaking = true
			b.updateSpeaking()
		}

	case aiSpeechStopped:
		if b.cfg.VADSource.usesAI() {
			b.aiSpeaking = false
			b.updateSpeaking()
		}

	case aiError:
		var apiErr *realtime.APIError
		if errors.As(ev.err, &apiErr) && apiErr.Benign() {
			b.log.Debug("ai notice", "code", apiErr.Code)
			return
		}
		b.log.Warn("ai error", "error", ev.err)

	case aiClosed:
		b.aiClosed(ev.err)
	}
}

// openResponse opens a generation for a newly created response. A new
// generation while Interrupted and the caller is silent resumes the
// conversation.
func (b *Bridge) openResponse(id string) {
	if _, fresh := b.sess.Open(id); !fresh {
		return
	}
	b.responding = id
	switch b.sess.State() {
	case session.Connected:
		b.transition(session.Conversing)
	case session.Interrupted:
		if !b.sess.CallerSpeaking() {
			b.transition(session.Conversing)
		}
	}
}

// handleAudio plays a delta of an open, current response. Audio for a
// cancelled response, or one whose creation was never seen, is stale.
func (b *Bridge) handleAudio(id string, pcm []byte) {
	gen, ok := b.sess.Lookup(id)
	if !ok || !b.sess.Accepts(gen) {
		b.stats.stale.Add(1)
		b.cfg.Metrics.StaleChunk()
		if !ok {
			b.log.Debug("audio for unknown response", "response_id", id)
		}
		return
	}
	if gen != b.heardGen {
		b.heardGen = gen
		b.cfg.Metrics.ResponseAudio()
	}

	frames, err := b.adapter.ToCarrierFormat(pcm)
	if err != nil {
		b.log.Warn("dropped AI audio", "error", err)
		return
	}
	if id != b.playback.responseID {
		b.playback = playback{responseID: id}
	}
	b.playback.sent += codec.PCM16_24k.Duration(len(pcm))
	b.enqueue(gen, frames)
}

// enqueue queues frames and a trailing playback mark. Whatever does not
// fit waits in the backlog and pauses AI intake.
func (b *Bridge) enqueue(gen uint64, frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	for _, f := range frames {
		b.backlog = append(b.backlog, session.Frame{Generation: gen, Payload: f})
	}
	b.markSeq++
	name := fmt.Sprintf("g%d-%d", gen, b.markSeq)
	b.marks[name] = markInfo{responseID: b.playback.responseID, end: b.playback.sent}
	b.backlog = append(b.backlog, session.Frame{Generation: gen, Mark: name})
	b.flushBacklog()
}

func (b *Bridge) flushBacklog() {
	q := b.sess.Pending()
	n := 0
	for n < len(b.backlog) && q.Push(b.backlog[n]) {
		n++
	}
	if n == 0 {
		return
	}
	rest := copy(b.backlog, b.backlog[n:])
	clear(b.backlog[rest:])
	b.backlog = b.backlog[:rest]

	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *Bridge) aiClosed(err error) {
	if err == nil {
		b.log.Info("ai ended the session")
		b.terminate(session.ReasonAIHangup, nil)
		return
	}
	if b.cfg.ReconnectAttempts == 0 {
		b.terminate(session.ReasonError, callerr.NewChannelClosed("ai", err))
		return
	}
	b.log.Warn("ai connection lost, reconnecting", "error", err)
	b.reconnecting = true
	b.attempts = 0
	b.responding = ""
	b.inbound = nil
	b.dial(1)
}

func (b *Bridge) handleConnect(res connectResult) {
	if res.err != nil {
		if !b.reconnecting {
			b.log.Error("ai handshake failed", "error", res.err)
			b.terminate(session.ReasonError, res.err)
			return
		}
		b.attempts++
		if b.attempts >= b.cfg.ReconnectAttempts {
			b.terminate(session.ReasonError,
				fmt.Errorf("bridge: ai reconnect failed after %d attempts: %w", b.attempts, res.err))
			return
		}
		b.log.Warn("ai reconnect failed", "attempt", b.attempts, "error", res.err)
		b.dial(b.attempts + 1)
		return
	}

	if b.reconnecting {
		b.reconnecting = false
		b.attempts = 0
		b.stats.reconnects.Add(1)
		b.cfg.Metrics.Reconnect()
		b.log.Info("ai reconnected")
		return
	}

	b.cfg.Metrics.Handshake(res.took)
	if err := b.sess.AttachAI(b.ai); err != nil {
		b.terminate(session.ReasonError, err)
		return
	}
	b.transition(session.Connected)
	b.log.Info("ai connected", "handshake", res.took)

	if b.cfg.FirstMessage != "" {
		if err := b.ai.CreateResponse("Greet the caller by saying exactly: " + b.cfg.FirstMessage); err != nil {
			b.log.Warn("first message failed", "error", err)
		}
	}
}

// Barge-in

func (b *Bridge) updateSpeaking() {
	speaking := b.aiSpeaking || b.carrierSpeaking
	if !b.sess.SetCallerSpeaking(speaking) {
		return
	}
	if !speaking {
		b.cfg.Metrics.CallerStopped()
		return
	}
	if b.sess.State() == session.Conversing && b.midPlayback() {
		b.interrupt()
	}
}

func (b *Bridge) midPlayback() bool {
	return b.sess.Pending().Len() > 0 || len(b.backlog) > 0 ||
		len(b.marks) > 0 || b.responding != ""
}

// interrupt handles a barge-in. The generation is cancelled and the queue
// emptied before waiting on the writer, which rechecks the generation under
// playMu, so at most the write already in flight reaches the caller.
func (b *Bridge) interrupt() {
	if err := b.ai.CancelResponse(); err != nil && !realtime.IsNotConnected(err) {
		b.log.Warn("cancel response failed", "error", err)
	}

	gen := b.sess.CancelGeneration()
	dropped := b.sess.Pending().Clear()
	for _, f := range b.backlog {
		if len(f.Payload) > 0 {
			dropped++
		}
	}
	b.backlog = nil
	b.stats.discarded.Add(uint64(dropped))
	b.cfg.Metrics.FrameDropped(DropInterrupted, dropped)

	b.playMu.Lock()
	b.adapter.ResetOutbound()
	clear(b.marks)
	heard := b.playback
	b.playback = playback{}
	b.responding = ""
	b.playMu.Unlock()

	if err := b.stream.Clear(); err != nil && !errors.Is(err, twilio.ErrStreamStopped) {
		b.log.Warn("clear failed", "error", err)
	}
	if heard.responseID != "" {
		if err := b.ai.Truncate(heard.responseID, heard.heard); err != nil && !realtime.IsNotConnected(err) {
			b.log.Warn("truncate failed", "error", err)
		}
	}

	b.stats.interruptions.Add(1)
	b.cfg.Metrics.Interruption()
	b.transition(session.Interrupted)
	b.log.Info("caller barged in", "generation", gen, "discarded", dropped, "heard", heard.heard)
}

// Lifecycle

func (b *Bridge) transition(to session.State) {
	from := b.sess.State()
	changed, err := b.sess.Transition(to)
	if err != nil {
		b.log.Warn("state transition rejected", "from", from, "to", to, "error", err)
		return
	}
	if changed {
		b.log.Debug("state changed", "from", from, "to", to)
		b.cfg.Observer.StateChanged(b.sess.Snapshot(), from, to)
	}
}

// terminate tears the call down: no playback after it returns, both
// channels closed, queued audio discarded, reason recorded once.
func (b *Bridge) terminate(reason session.TerminationReason, cause error) {
	if b.ended {
		return
	}
	b.ended = true
	b.endErr = cause

	b.playMu.Lock()
	b.hungUp = true
	b.playMu.Unlock()

	b.transition(session.Ending)

	b.inbound = nil
	b.backlog = nil
	clear(b.marks)
	if err := b.ai.Close(); err != nil {
		b.log.Debug("ai close", "error", err)
	}
	if err := b.stream.Close(); err != nil {
		b.log.Debug("carrier close", "error", err)
	}
	b.adapter.Reset()

	if changed, err := b.sess.End(reason); err != nil {
		b.log.Error("end session", "error", err)
	} else if changed {
		b.cfg.Observer.StateChanged(b.sess.Snapshot(), session.Ending, session.Ended)
	}

	snap := b.sess.Snapshot()
	attrs := []any{"reason", reason, "duration", snap.Duration, "frames_in", b.stats.framesIn.Load(),
		"frames_out", b.stats.framesOut.Load(), "dropped", b.stats.dropped.Load()}
	if cause != nil {
		b.log.Warn("call ended", append(attrs, "error", cause)...)
	} else {
		b.log.Info("call ended", attrs...)
	}
	b.cfg.Observer.Ended(snap, cause)
}
