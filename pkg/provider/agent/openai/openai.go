// Package openai provides an agent engine backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arens-io/voicelink/pkg/provider/agent"
)

// Compile-time assertion that Provider satisfies the agent interface.
var _ agent.Provider = (*Provider)(nil)

// Provider implements agent.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
}

// Option is a functional option for Provider.
type Option func(*[]option.RequestOption)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// New constructs a new OpenAI agent Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...)}, nil
}

// StreamResponse implements agent.Provider.
func (p *Provider) StreamResponse(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, oai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: msgs,
	})
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan agent.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
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

		if err := stream.Err(); err != nil {
			select {
			case ch <- agent.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
