package realtime

import (
	"log/slog"
	"time"
)

// Defaults for the OpenAI realtime endpoint.
const (
	DefaultURL              = "wss://api.openai.com/v1/realtime"
	DefaultModel            = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice            = "alloy"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadTimeout      = 2 * time.Minute
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
)

// Config holds provider configuration.
type Config struct {
	// APIKey is the bearer token.
	APIKey string

	// URL is the WebSocket endpoint without query.
	URL string

	// Model is appended as ?model=.
	Model string

	// Voice is used when SessionOptions.Voice is empty.
	Voice string

	// HandshakeTimeout bounds dialing plus waiting for session.created.
	HandshakeTimeout time.Duration

	// ReadTimeout is the longest silence tolerated from the service.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		URL:              DefaultURL,
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ReadTimeout:      DefaultReadTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		PingInterval:     DefaultPingInterval,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithURL overrides the endpoint, for tests and proxies.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithHandshakeTimeout sets the connect deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithReadTimeout sets the read deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithPingInterval sets the keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
