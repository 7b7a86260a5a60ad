// Package openai provides a TTS provider backed by the OpenAI speech
// synthesis endpoint.
package openai

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arens-io/voicelink/pkg/provider/tts"
)

const defaultModel = "gpt-4o-mini-tts"

// Compile-time assertion that Provider satisfies the tts interface.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio speech API. The
// response format is fixed to raw PCM, which the endpoint delivers as 16-bit
// LE mono at 24 kHz.
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

// New constructs a new OpenAI TTS Provider.
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

// Synthesize implements tts.Provider. The HTTP response body streams raw
// PCM; reading it under ctx makes cancellation cooperative, and a cancelled
// read discards everything read so far.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.Text == "" {
		return nil, nil
	}
	model := req.Model
	if model == "" {
		model = defaultModel
	}

	params := oai.AudioSpeechNewParams{
		Model:          model,
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if req.Speed > 0 {
		params.Speed = oai.Float(req.Speed)
	}
	if req.Instructions != "" {
		params.Instructions = oai.String(req.Instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("openai: read audio: %w", err)
	}
	return pcm, nil
}
