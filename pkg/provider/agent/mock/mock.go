// Package mock provides a scripted agent.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arens-io/voicelink/pkg/provider/agent"
)

// Compile-time assertion that Provider satisfies the agent interface.
var _ agent.Provider = (*Provider)(nil)

// Provider is a scripted agent engine. Each call to StreamResponse pops the
// next script entry and streams its chunks. When the script is exhausted the
// stream closes immediately with no chunks.
type Provider struct {
	mu       sync.Mutex
	script   [][]agent.Chunk
	requests []agent.Request

	// Err, when non-nil, is returned by StreamResponse instead of a stream.
	Err error
}

// New creates a Provider that replays the given chunk sequences in order.
func New(script ...[]agent.Chunk) *Provider {
	return &Provider{script: script}
}

// Requests returns a copy of all requests seen so far.
func (p *Provider) Requests() []agent.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]agent.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// StreamResponse implements agent.Provider.
func (p *Provider) StreamResponse(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	p.mu.Lock()
	if p.Err != nil {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	p.requests = append(p.requests, req)
	var chunks []agent.Chunk
	if len(p.script) > 0 {
		chunks = p.script[0]
		p.script = p.script[1:]
	}
	p.mu.Unlock()

	ch := make(chan agent.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
