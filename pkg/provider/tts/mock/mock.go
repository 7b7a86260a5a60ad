// Package mock provides a controllable tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arens-io/voicelink/pkg/provider/tts"
)

// Compile-time assertion that Provider satisfies the tts interface.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock TTS backend. By default each request yields PCMPerChar
// bytes of silence per input character, so tests can predict frame counts.
// SynthesizeFunc, when set, replaces the default behavior entirely.
type Provider struct {
	// PCMPerChar controls the default output size. Zero means 960 bytes
	// (one 24 kHz frame) per request regardless of text length.
	PCMPerChar int

	// Err, when non-nil, is returned by every Synthesize call.
	Err error

	// SynthesizeFunc overrides the default synthesis behavior.
	SynthesizeFunc func(ctx context.Context, req tts.Request) ([]byte, error)

	mu       sync.Mutex
	requests []tts.Request
}

// Requests returns a copy of all requests seen so far.
func (p *Provider) Requests() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := p.PCMPerChar * len(req.Text)
	if p.PCMPerChar == 0 {
		n = 960
	}
	return make([]byte, n), nil
}
