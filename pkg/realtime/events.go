package realtime

import (
	"encoding/json"
	"fmt"
)

// clientEvent is any message we send. Only the fields relevant to Type are set.
type clientEvent struct {
	Type     string            `json:"type"`
	Audio    string            `json:"audio,omitempty"`
	Session  *sessionConfig    `json:"session,omitempty"`
	Response *responseConfig   `json:"response,omitempty"`
	Item     *conversationItem `json:"item,omitempty"`

	// conversation.item.truncate
	ItemID       string `json:"item_id,omitempty"`
	ContentIndex *int   `json:"content_index,omitempty"`
	AudioEndMs   *int   `json:"audio_end_ms,omitempty"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

type sessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`

	// Raw so "none" can be sent as an explicit null.
	TurnDetection json.RawMessage `json:"turn_detection,omitempty"`

	Tools      []toolConfig `json:"tools,omitempty"`
	ToolChoice string       `json:"tool_choice,omitempty"`
}

type toolConfig struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  toolParameters `json:"parameters"`
}

type toolParameters struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetectionConfig struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
	InterruptResponse *bool   `json:"interrupt_response,omitempty"`
}

type responseConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

func encodeTurnDetection(td *TurnDetection) (json.RawMessage, error) {
	if td.Type == "none" {
		return json.RawMessage("null"), nil
	}
	raw, err := json.Marshal(turnDetectionConfig{
		Type:              orDefault(td.Type, "server_vad"),
		Threshold:         td.Threshold,
		PrefixPaddingMs:   td.PrefixPaddingMs,
		SilenceDurationMs: td.SilenceDurationMs,
		CreateResponse:    td.CreateResponse,
		InterruptResponse: td.InterruptResponse,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: encode turn detection: %w", err)
	}
	return raw, nil
}

// serverEvent is the union of the server events the provider reads.
type serverEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`

	// response.function_call_arguments.done
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session"`

	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		EventID string `json:"event_id"`
	} `json:"error"`
}
