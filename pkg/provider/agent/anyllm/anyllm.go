// Package anyllm provides an agent engine backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It lets the response model run against any of those backends without
// changing the bridge.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/arens-io/voicelink/pkg/provider/agent"
)

// Compile-time assertion that Provider satisfies the agent interface.
var _ agent.Provider = (*Provider)(nil)

// Provider implements agent.Provider by wrapping any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
}

// New creates a Provider backed by the given backend name: one of "openai",
// "anthropic", "gemini", "ollama", "mistral", "groq".
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API-key option the backend falls back to
// its conventional environment variable.
func New(backendName string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backendName must not be empty")
	}
	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{backend: backend}, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, mistral, groq", name)
	}
}

// StreamResponse implements agent.Provider.
func (p *Provider) StreamResponse(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: m.Content})
		default:
			msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: m.Content})
		}
	}

	params := anyllmlib.CompletionParams{
		Model:    req.Model,
		Messages: msgs,
	}
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan agent.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := agent.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// Check for backend errors after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- agent.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
