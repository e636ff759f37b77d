// Package realtime is the AI side of a call: a streaming speech-to-speech
// session that takes caller audio and returns synthesized speech,
// transcripts and voice-activity events.
//
// Callbacks run on the provider's read goroutine. A callback that blocks
// stops the provider from reading the socket, which is how a slow
// consumer pushes back on the AI service.
//
// Example usage:
//
//	ai, err := realtime.NewOpenAI(
//	    realtime.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    realtime.WithVoice("alloy"),
//	)
//	if err != nil {
//	    return err
//	}
//	ai.OnAudio(func(responseID string, pcm []byte) {
//	    // play pcm
//	})
//	if err := ai.Connect(ctx); err != nil {
//	    return err
//	}
//	defer ai.Close()
package realtime

import (
	"context"
	"time"
)

// Provider is a realtime speech session.
type Provider interface {
	// Connect dials the service and waits until the session is ready. It
	// fails with callerr.ErrHandshakeTimeout if that takes longer than the
	// configured handshake timeout. Connect may be called again after the
	// connection closes.
	Connect(ctx context.Context) error

	// Close shuts the connection down. OnClose is not fired for a local close.
	Close() error

	// IsConnected reports whether a ready session is open.
	IsConnected() bool

	// ConfigureSession sets instructions, voice and turn detection.
	ConfigureSession(opts SessionOptions) error

	// SendAudio appends PCM16 audio to the input buffer.
	SendAudio(pcm []byte) error

	// CommitAudio commits the input buffer as a user turn. Only needed when
	// server-side turn detection is off.
	CommitAudio() error

	// CreateResponse asks for a spoken response. instructions, when set,
	// override the session instructions for this response only.
	CreateResponse(instructions string) error

	// CancelResponse stops the response in progress.
	CancelResponse() error

	// Truncate tells the service the caller heard only the first played
	// of responseID's audio, so the conversation matches what was heard.
	// It does nothing for a response that produced no audio.
	Truncate(responseID string, played time.Duration) error

	// RegisterTool makes a function available to the model from the next
	// ConfigureSession on. Calls are answered on the read goroutine and
	// followed by a new response.
	RegisterTool(tool Tool) error

	// OnAudio receives synthesized audio tagged with its response id.
	OnAudio(fn func(responseID string, pcm []byte))

	// OnAudioDone fires when a response has no more audio.
	OnAudioDone(fn func(responseID string))

	// OnTranscript receives user and agent transcripts.
	OnTranscript(fn func(role Role, text string, final bool))

	// OnSpeechStarted fires when the service detects caller speech.
	OnSpeechStarted(fn func())

	// OnSpeechStopped fires when the service detects the end of caller speech.
	OnSpeechStopped(fn func())

	// OnResponseCreated fires when a new response begins.
	OnResponseCreated(fn func(responseID string))

	// OnResponseDone fires when a response finishes, with its final status
	// ("completed", "cancelled", "failed", "incomplete").
	OnResponseDone(fn func(responseID, status string))

	// OnError receives non-fatal errors reported by the service.
	OnError(fn func(err error))

	// OnClose fires when the remote side ends the connection. err is nil
	// for a normal closure.
	OnClose(fn func(err error))
}

// Role identifies the speaker of a transcript.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// SessionOptions configures a session.
type SessionOptions struct {
	// Instructions is the system prompt.
	Instructions string

	// Voice is the output voice name.
	Voice string

	// Temperature controls response randomness.
	Temperature float64

	// InputFormat and OutputFormat name the audio encoding on the wire.
	// Both default to "pcm16".
	InputFormat  string
	OutputFormat string

	// TranscriptionModel enables caller transcripts when set.
	TranscriptionModel string

	// TurnDetection configures server-side voice activity detection.
	// Nil keeps the service default.
	TurnDetection *TurnDetection

	// Tools are registered before the session is configured.
	Tools []Tool
}

// TurnDetection configures voice activity detection for turn-taking.
type TurnDetection struct {
	// Type is "server_vad", "semantic_vad" or "none".
	Type string

	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int

	// CreateResponse and InterruptResponse let the service start and stop
	// responses by itself. Nil keeps the service default.
	CreateResponse    *bool
	InterruptResponse *bool
}

// ConnectionState is the state of the provider connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Stats are provider-level counters.
type Stats struct {
	MessagesSent       int64
	MessagesReceived   int64
	AudioBytesSent     int64
	AudioBytesReceived int64
	ToolCalls          int64
	Errors             int64
}
