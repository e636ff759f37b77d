package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults for the bridge service.
const (
	DefaultPort              = 3000
	DefaultModel             = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice             = "alloy"
	DefaultVADSource         = "ai"
	DefaultIdleTimeout       = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultReconnectAttempts = 2
	DefaultReconnectDelay    = 500 * time.Millisecond
	DefaultMakeCallRate      = 1.0
	DefaultMakeCallBurst     = 3
	DefaultShutdownTimeout   = 10 * time.Second
)

// Config is read once at startup and never mutated afterwards.
type Config struct {
	Port     int
	LogLevel string

	// PublicHost is the externally reachable host name the carrier calls
	// back on (no scheme), e.g. "bridge.example.com".
	PublicHost string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioCallerID   string

	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIVoice  string

	// Greeting is spoken by the carrier on inbound calls before the media
	// stream connects. Empty skips it.
	Greeting string

	// VADSource selects which voice-activity signal drives barge-in:
	// "ai", "carrier" or "both".
	VADSource string

	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	MakeCallRate  float64
	MakeCallBurst int

	ShutdownTimeout time.Duration

	// Profile holds the agent persona. Nil when no profile file is given.
	Profile *Profile
}

// Load builds a Config from the environment.
func Load() *Config {
	return &Config{
		Port:              Int("PORT", DefaultPort),
		LogLevel:          String("LOG_LEVEL", "info"),
		PublicHost:        strings.TrimSuffix(stripScheme(String("PUBLIC_HOST", "")), "/"),
		TwilioAccountSID:  String("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   String("TWILIO_AUTH_TOKEN", ""),
		TwilioCallerID:    String("TWILIO_CALLER_ID", ""),
		OpenAIAPIKey:      String("OPENAI_API_KEY", ""),
		OpenAIModel:       String("OPENAI_REALTIME_MODEL", DefaultModel),
		OpenAIVoice:       String("OPENAI_VOICE", DefaultVoice),
		Greeting:          String("CALL_GREETING", ""),
		VADSource:         strings.ToLower(String("VAD_SOURCE", DefaultVADSource)),
		IdleTimeout:       Duration("IDLE_TIMEOUT", DefaultIdleTimeout),
		HandshakeTimeout:  Duration("AI_HANDSHAKE_TIMEOUT", DefaultHandshakeTimeout),
		ReconnectAttempts: Int("AI_RECONNECT_ATTEMPTS", DefaultReconnectAttempts),
		ReconnectDelay:    Duration("AI_RECONNECT_DELAY", DefaultReconnectDelay),
		MakeCallRate:      Float("MAKE_CALL_RATE", DefaultMakeCallRate),
		MakeCallBurst:     Int("MAKE_CALL_BURST", DefaultMakeCallBurst),
		ShutdownTimeout:   Duration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
	}
}

// OutboundEnabled reports whether carrier credentials are present, which
// is required for placing calls and hanging them up over REST.
func (c *Config) OutboundEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioCallerID != ""
}

// MediaStreamURL is the WebSocket URL the carrier connects media to.
func (c *Config) MediaStreamURL() string {
	return "wss://" + c.PublicHost + "/media-stream"
}

// StatusCallbackURL is where the carrier posts call progress.
func (c *Config) StatusCallbackURL() string {
	return "https://" + c.PublicHost + "/call-status"
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	var errs []error
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.PublicHost == "" {
		errs = append(errs, errors.New("PUBLIC_HOST is required"))
	}
	switch c.VADSource {
	case "ai", "carrier", "both":
	default:
		errs = append(errs, fmt.Errorf("VAD_SOURCE must be ai, carrier or both, got %q", c.VADSource))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("IDLE_TIMEOUT must be positive"))
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("AI_HANDSHAKE_TIMEOUT must be positive"))
	}
	if c.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("AI_RECONNECT_ATTEMPTS must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func stripScheme(host string) string {
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(host, prefix) {
			return strings.TrimPrefix(host, prefix)
		}
	}
	return host
}
