// Package agent defines the Provider interface for the conversational agent
// engine that drives chunked-mode responses.
//
// An agent provider wraps a remote or local language-model API and exposes a
// uniform streaming interface so the voice controller can consume text deltas
// without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamResponse must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package agent

import "context"

// Message represents a single turn in the conversation history.
type Message struct {
	// Role is one of "user" or "assistant".
	Role string

	// Content is the text content of the turn.
	Content string
}

// Request carries everything the agent needs to produce a response.
type Request struct {
	// Model selects the response model (e.g., "gpt-4o-mini").
	Model string

	// SystemPrompt is injected before the conversation history.
	SystemPrompt string

	// Messages is the ordered history window; the last entry is the user
	// transcript that triggered this response.
	Messages []Message
}

// Chunk is a text fragment emitted by a streaming response.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty on the
	// final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error"
	// (with Text carrying the error description).
	FinishReason string
}

// Provider is the abstraction over any agent engine backend.
//
// StreamResponse sends req and returns a read-only channel emitting chunks as
// they arrive. The channel is closed when generation finishes or ctx is
// cancelled; callers must drain it. Errors after the stream opens surface as
// a Chunk with FinishReason "error"; the error return is non-nil only when
// the stream cannot start.
type Provider interface {
	StreamResponse(ctx context.Context, req Request) (<-chan Chunk, error)
}
