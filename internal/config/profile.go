package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the agent persona loaded from YAML.
//
//	instructions: |
//	  You are a friendly receptionist.
//	voice: shimmer
//	temperature: 0.7
//	turn_detection:
//	  type: server_vad
//	  silence_duration_ms: 400
type Profile struct {
	Instructions  string         `yaml:"instructions"`
	Voice         string         `yaml:"voice"`
	Temperature   float64        `yaml:"temperature"`
	FirstMessage  string         `yaml:"first_message"`
	TurnDetection *TurnDetection `yaml:"turn_detection"`
}

// TurnDetection mirrors the AI service's server-side VAD settings.
type TurnDetection struct {
	Type              string  `yaml:"type"`
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// LoadProfile reads and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile document.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return nil, fmt.Errorf("config: temperature %.2f out of range", p.Temperature)
	}
	if td := p.TurnDetection; td != nil {
		switch td.Type {
		case "", "server_vad", "semantic_vad", "none":
		default:
			return nil, fmt.Errorf("config: unknown turn_detection type %q", td.Type)
		}
	}
	return &p, nil
}
