// Package realtime defines the Provider interface for bidirectional
// speech-to-speech AI sessions.
//
// A realtime provider replaces the separate STT, agent, and TTS stages with
// one upstream socket per call: inbound PCM flows up, synthesized audio and
// control events flow back down. Tool calls from the model are surfaced as
// events and answered via SubmitToolResult.
//
// Implementations must be safe for concurrent use.
package realtime

import "context"

// ToolDefinition describes one callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the arguments.
	Parameters map[string]any
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	// Type is "server_vad" or "none".
	Type string

	// Threshold tunes VAD sensitivity (0–1). Zero uses the provider default.
	Threshold float64

	// SilenceDurationMs is the silence needed to end a user turn.
	SilenceDurationMs int

	// PrefixPaddingMs is audio retained before detected speech start.
	PrefixPaddingMs int
}

// SessionConfig describes a new realtime session.
type SessionConfig struct {
	// Model selects the realtime model (e.g., "gpt-4o-realtime-preview").
	Model string

	// Voice selects the synthesis voice preset.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string

	// Tools is the filtered list of tools the model may call.
	Tools []ToolDefinition

	// TurnDetection configures VAD-based turn taking.
	TurnDetection TurnDetection
}

// EventType discriminates Event values.
type EventType string

const (
	// EventAudioDelta carries a chunk of synthesized 24 kHz PCM in Audio.
	EventAudioDelta EventType = "audio_delta"

	// EventSpeechStarted fires when server VAD detects user speech. Used to
	// trigger barge-in.
	EventSpeechStarted EventType = "speech_started"

	// EventResponseDone fires when a model response finishes normally.
	EventResponseDone EventType = "response_done"

	// EventResponseCancelled fires when the endpoint cancels its own
	// response after a barge-in.
	EventResponseCancelled EventType = "response_cancelled"

	// EventToolCall carries a completed tool invocation: Name, CallID, and
	// the accumulated Arguments JSON.
	EventToolCall EventType = "tool_call"

	// EventUserTranscript carries the committed transcript of a user turn
	// in Text.
	EventUserTranscript EventType = "user_transcript"

	// EventAssistantTranscript carries the transcript of a finished
	// assistant response in Text.
	EventAssistantTranscript EventType = "assistant_transcript"

	// EventError carries a fatal upstream error in Err. The session is dead
	// after this event.
	EventError EventType = "error"
)

// Event is one occurrence on a realtime session. Only the fields relevant to
// its Type are populated.
type Event struct {
	Type      EventType
	Audio     []byte
	Text      string
	Name      string
	CallID    string
	Arguments string
	Err       error
}

// SessionHandle represents an open realtime session.
//
// Callers must drain Events and call Close when done. All methods are safe
// for concurrent use.
type SessionHandle interface {
	// SendAudio forwards a chunk of raw 24 kHz PCM16 to the model.
	SendAudio(chunk []byte) error

	// Events returns the session's event stream. The channel is closed when
	// the session ends.
	Events() <-chan Event

	// SubmitToolResult returns a tool execution result to the model and
	// triggers the continuation of its response.
	SubmitToolResult(callID, output string) error

	// Close terminates the session. Safe to call more than once.
	Close() error
}

// Provider is the abstraction over any realtime speech backend.
type Provider interface {
	// Connect establishes a new session. The returned handle is ready to
	// accept audio immediately.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
