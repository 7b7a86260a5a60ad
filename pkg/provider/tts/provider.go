// Package tts defines the Provider interface for speech synthesis backends.
//
// A TTS provider turns one utterance of text into a raw PCM buffer at
// 24 kHz, 16-bit mono. Synthesis must honor context cancellation
// cooperatively: an aborted request discards any partial output.
//
// Implementations must be safe for concurrent use; the scheduler runs
// several syntheses in parallel.
package tts

import "context"

// Request describes one synthesis job.
type Request struct {
	// Text is the utterance to synthesize.
	Text string

	// Model selects the synthesis model (e.g., "gpt-4o-mini-tts").
	Model string

	// Voice selects the voice preset.
	Voice string

	// Speed scales playback rate, 0.25–4.0. Zero uses the provider default.
	Speed float64

	// Instructions is an optional style hint for models that support it.
	Instructions string
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize converts req.Text into raw 16-bit LE mono PCM at 24 kHz.
	// Cancelling ctx aborts the in-flight request; partial output is
	// discarded and ctx.Err() is returned.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
