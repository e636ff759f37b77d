package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CB_STR", "  value ")
	t.Setenv("CB_INT", "42")
	t.Setenv("CB_BAD_INT", "forty")
	t.Setenv("CB_DUR", "250ms")
	t.Setenv("CB_SECS", "7")
	t.Setenv("CB_BOOL", "true")
	t.Setenv("CB_FLOAT", "2.5")

	if got := String("CB_STR", "def"); got != "value" {
		t.Errorf("String = %q, want value", got)
	}
	if got := String("CB_MISSING", "def"); got != "def" {
		t.Errorf("String default = %q, want def", got)
	}
	if got := Int("CB_INT", 1); got != 42 {
		t.Errorf("Int = %d, want 42", got)
	}
	if got := Int("CB_BAD_INT", 1); got != 1 {
		t.Errorf("Int fallback = %d, want 1", got)
	}
	if got := Duration("CB_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", got)
	}
	if got := Duration("CB_SECS", time.Second); got != 7*time.Second {
		t.Errorf("Duration seconds = %v, want 7s", got)
	}
	if !Bool("CB_BOOL", false) {
		t.Error("Bool should be true")
	}
	if got := Float("CB_FLOAT", 0); got != 2.5 {
		t.Errorf("Float = %v, want 2.5", got)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("PUBLIC_HOST", "https://bridge.example.com/")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VAD_SOURCE", "BOTH")
	t.Setenv("IDLE_TIMEOUT", "45s")

	cfg := Load()

	if cfg.Port != 8081 {
		t.Errorf("Port = %d, want 8081", cfg.Port)
	}
	if cfg.PublicHost != "bridge.example.com" {
		t.Errorf("PublicHost = %q", cfg.PublicHost)
	}
	if cfg.VADSource != "both" {
		t.Errorf("VADSource = %q, want both", cfg.VADSource)
	}
	if cfg.IdleTimeout != 45*time.Second {
		t.Errorf("IdleTimeout = %v", cfg.IdleTimeout)
	}
	if cfg.MediaStreamURL() != "wss://bridge.example.com/media-stream" {
		t.Errorf("MediaStreamURL = %q", cfg.MediaStreamURL())
	}
	if cfg.StatusCallbackURL() != "https://bridge.example.com/call-status" {
		t.Errorf("StatusCallbackURL = %q", cfg.StatusCallbackURL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if cfg.OutboundEnabled() {
		t.Error("outbound should be disabled without carrier credentials")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             3000,
			PublicHost:       "example.com",
			OpenAIAPIKey:     "sk",
			VADSource:        "ai",
			IdleTimeout:      time.Second,
			HandshakeTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing key", func(c *Config) { c.OpenAIAPIKey = "" }, "OPENAI_API_KEY"},
		{"missing host", func(c *Config) { c.PublicHost = "" }, "PUBLIC_HOST"},
		{"bad vad", func(c *Config) { c.VADSource = "mic" }, "VAD_SOURCE"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "out of range"},
		{"zero idle", func(c *Config) { c.IdleTimeout = 0 }, "IDLE_TIMEOUT"},
		{"negative reconnect", func(c *Config) { c.ReconnectAttempts = -1 }, "AI_RECONNECT_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	t.Run("valid profile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.yaml")
		doc := `instructions: |
  You answer the phone for a bakery.
voice: shimmer
temperature: 0.7
turn_detection:
  type: server_vad
  silence_duration_ms: 400
`
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}

		p, err := LoadProfile(path)
		if err != nil {
			t.Fatalf("LoadProfile() error = %v", err)
		}
		if !strings.Contains(p.Instructions, "bakery") {
			t.Errorf("Instructions = %q", p.Instructions)
		}
		if p.Voice != "shimmer" || p.Temperature != 0.7 {
			t.Errorf("voice/temperature = %q/%v", p.Voice, p.Temperature)
		}
		if p.TurnDetection == nil || p.TurnDetection.SilenceDurationMs != 400 {
			t.Errorf("TurnDetection = %+v", p.TurnDetection)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		if _, err := ParseProfile([]byte("temperature: 5\n")); err == nil {
			t.Error("expected temperature error")
		}
		if _, err := ParseProfile([]byte("turn_detection:\n  type: push_to_talk\n")); err == nil {
			t.Error("expected turn detection error")
		}
	})
}
