package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/vad"
)

// VADSource selects which voice-activity signal drives barge-in.
type VADSource string

const (
	// VADFromAI uses the AI service's speech_started/speech_stopped events.
	VADFromAI VADSource = "ai"

	// VADFromCarrier runs the energy detector on inbound carrier audio.
	VADFromCarrier VADSource = "carrier"

	// VADBoth treats the caller as speaking while either source says so.
	VADBoth VADSource = "both"
)

func (s VADSource) usesAI() bool      { return s == VADFromAI || s == VADBoth }
func (s VADSource) usesCarrier() bool { return s == VADFromCarrier || s == VADBoth }

// Default tuning.
const (
	DefaultTickInterval         = 20 * time.Millisecond
	DefaultInboundChunk         = 50 * time.Millisecond
	DefaultQuietPeriod          = 600 * time.Millisecond
	DefaultIdleTimeout          = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultDecodeErrorThreshold = 10
	DefaultDecodeErrorWindow    = time.Second
	DefaultReconnectAttempts    = 2
	DefaultReconnectDelay       = 500 * time.Millisecond
)

// Config holds the per-call tuning for a Bridge.
type Config struct {
	Logger *slog.Logger

	// VAD source and carrier-side detector parameters.
	VADSource VADSource
	VAD       vad.Params

	// Pending playback bound, in carrier frames.
	QueueCapacity int

	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration

	// QuietPeriod of caller silence returns Interrupted to Conversing.
	QuietPeriod time.Duration

	// InboundChunk is the minimum audio appended to the AI per send.
	InboundChunk time.Duration

	// TickInterval drives idle checks and partial-chunk flushes.
	TickInterval time.Duration

	// More than DecodeErrorThreshold undecodable frames within
	// DecodeErrorWindow ends the call.
	DecodeErrorThreshold int
	DecodeErrorWindow    time.Duration

	// ReconnectAttempts is the AI reconnect budget after an abnormal close.
	// Zero disables reconnecting.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Session is sent to the AI after every successful connect.
	Session realtime.SessionOptions

	// FirstMessage, when set, is spoken as soon as the call connects.
	FirstMessage string

	Observer Observer
	Metrics  Metrics

	// Clock replaces time.Now for the session, for tests.
	Clock func() time.Time
}

// DefaultConfig returns a Config with the default tuning.
func DefaultConfig() Config {
	return Config{
		VADSource:            VADFromAI,
		VAD:                  vad.DefaultParams(),
		QueueCapacity:        session.DefaultQueueCapacity,
		IdleTimeout:          DefaultIdleTimeout,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		QuietPeriod:          DefaultQuietPeriod,
		InboundChunk:         DefaultInboundChunk,
		TickInterval:         DefaultTickInterval,
		DecodeErrorThreshold: DefaultDecodeErrorThreshold,
		DecodeErrorWindow:    DefaultDecodeErrorWindow,
		ReconnectAttempts:    DefaultReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Logger == nil {
		c.Logger = log.L()
	}
	if c.VADSource == "" {
		c.VADSource = d.VADSource
	}
	if c.VAD == (vad.Params{}) {
		c.VAD = d.VAD
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = d.QuietPeriod
	}
	if c.InboundChunk <= 0 {
		c.InboundChunk = d.InboundChunk
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.DecodeErrorThreshold <= 0 {
		c.DecodeErrorThreshold = d.DecodeErrorThreshold
	}
	if c.DecodeErrorWindow <= 0 {
		c.DecodeErrorWindow = d.DecodeErrorWindow
	}
	if c.ReconnectAttempts < 0 {
		c.ReconnectAttempts = 0
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.VADSource {
	case VADFromAI, VADFromCarrier, VADBoth:
	default:
		return fmt.Errorf("bridge: unknown VAD source %q", c.VADSource)
	}
	if c.VADSource.usesCarrier() {
		if err := c.VAD.Validate(); err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
	}
	if c.InboundChunk > time.Second {
		return errors.New("bridge: inbound chunk must not exceed one second")
	}
	return nil
}
