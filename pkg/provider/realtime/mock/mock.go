// Package mock provides a controllable realtime.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/arens-io/voicelink/pkg/provider/realtime"
)

// Compile-time assertions.
var (
	_ realtime.Provider      = (*Provider)(nil)
	_ realtime.SessionHandle = (*Session)(nil)
)

// Provider is a mock realtime.Provider.
type Provider struct {
	mu       sync.Mutex
	sessions []*Session

	// ConnectErr, when non-nil, fails every Connect call.
	ConnectErr error
}

// New creates a mock Provider.
func New() *Provider {
	return &Provider{}
}

// Sessions returns all sessions opened so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Connect implements realtime.Provider.
func (p *Provider) Connect(_ context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := &Session{
		Config: cfg,
		events: make(chan realtime.Event, 256),
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// ToolResult records one SubmitToolResult call.
type ToolResult struct {
	CallID string
	Output string
}

// Session is a mock realtime.SessionHandle driven by the test via Emit.
type Session struct {
	// Config is the session configuration seen at Connect.
	Config realtime.SessionConfig

	mu          sync.Mutex
	audio       [][]byte
	toolResults []ToolResult
	closed      bool
	events      chan realtime.Event
}

// Emit delivers an event to the session consumer. It is a no-op after Close.
func (s *Session) Emit(ev realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// Audio returns every chunk received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// ToolResults returns every submitted tool result.
func (s *Session) ToolResults() []ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolResult, len(s.toolResults))
	copy(out, s.toolResults)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio implements realtime.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

// Events implements realtime.SessionHandle.
func (s *Session) Events() <-chan realtime.Event { return s.events }

// SubmitToolResult implements realtime.SessionHandle.
func (s *Session) SubmitToolResult(callID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	s.toolResults = append(s.toolResults, ToolResult{CallID: callID, Output: output})
	return nil
}

// Close implements realtime.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
