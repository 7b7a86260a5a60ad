// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. Once opened, a session accepts raw PCM audio
// frames and reports recognition through the callbacks supplied in
// StreamConfig: low-latency partials for responsiveness, authoritative finals
// that drive the conversation, and a voice-activity signal used to trigger
// barge-in.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format, recognition parameters, and event
// callbacks for a new transcription session.
//
// Callbacks are invoked from the session's internal read goroutine and must
// not block for long; hand off to a channel or goroutine if the handler does
// real work. Nil callbacks are ignored.
type StreamConfig struct {
	// Model selects the transcription model (e.g., "gpt-4o-transcribe").
	Model string

	// SampleRate is the input sample rate in Hz. The bridge always streams
	// pcm16 mono at 24000.
	SampleRate int

	// Language is an optional BCP-47 language hint. Empty lets the provider
	// auto-detect.
	Language string

	// VADThreshold tunes server-side voice activity detection (0–1).
	// Zero uses the provider default.
	VADThreshold float64

	// SilenceDurationMs is how long the server VAD waits in silence before
	// committing a turn. Zero uses the provider default.
	SilenceDurationMs int

	// OnPartial receives non-final interim transcripts.
	OnPartial func(text string)

	// OnFinal receives the committed transcript for one user turn.
	OnFinal func(text string)

	// OnUserSpeaking fires when server VAD detects the start of user speech.
	OnUserSpeaking func()
}

// SessionHandle represents an open streaming transcription session.
//
// Callers must call Close when the session is no longer needed; failing to do
// so leaks goroutines and the underlying network connection. All methods are
// safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio to the provider. The chunk
	// must match the format agreed in StreamConfig. Calling SendAudio after
	// the session ended returns an error.
	SendAudio(chunk []byte) error

	// Done is closed when the session ends for any reason: Close, context
	// cancellation, or an upstream failure. Err reports the cause.
	Done() <-chan struct{}

	// Err returns the terminal error once Done is closed. A clean Close
	// yields nil.
	Err() error

	// Close terminates the session and releases all resources. Safe to call
	// more than once.
	Close() error
}

// Provider is the abstraction over any streaming transcription backend.
type Provider interface {
	// StartStream opens a new transcription session. The returned handle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
