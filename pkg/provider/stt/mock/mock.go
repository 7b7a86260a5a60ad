// Package mock provides a controllable stt.Provider for tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/arens-io/voicelink/pkg/provider/stt"
)

// Compile-time assertions.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// Provider is a mock stt.Provider. Sessions record the audio they receive
// and expose Emit* methods so tests can drive recognition events.
type Provider struct {
	mu       sync.Mutex
	sessions []*Session

	// FailStarts makes the next N StartStream calls fail.
	FailStarts int

	// StartErr is the error returned for failed starts.
	StartErr error
}

// New creates a mock Provider.
func New() *Provider {
	return &Provider{StartErr: errors.New("mock: start failed")}
}

// Sessions returns all sessions opened so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailStarts > 0 {
		p.FailStarts--
		return nil, p.StartErr
	}
	s := &Session{cfg: cfg, done: make(chan struct{})}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Session is a mock stt.SessionHandle.
type Session struct {
	cfg stt.StreamConfig

	mu     sync.Mutex
	audio  [][]byte
	err    error
	closed bool
	done   chan struct{}
}

// Audio returns a copy of every chunk received so far.
func (s *Session) Audio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// AudioBytes returns the total number of audio bytes received.
func (s *Session) AudioBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.audio {
		n += len(c)
	}
	return n
}

// EmitPartial invokes the configured OnPartial callback.
func (s *Session) EmitPartial(text string) {
	if s.cfg.OnPartial != nil {
		s.cfg.OnPartial(text)
	}
}

// EmitFinal invokes the configured OnFinal callback.
func (s *Session) EmitFinal(text string) {
	if s.cfg.OnFinal != nil {
		s.cfg.OnFinal(text)
	}
}

// EmitUserSpeaking invokes the configured OnUserSpeaking callback.
func (s *Session) EmitUserSpeaking() {
	if s.cfg.OnUserSpeaking != nil {
		s.cfg.OnUserSpeaking()
	}
}

// Fail terminates the session with err, as an upstream failure would.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

// SendAudio implements stt.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

// Done implements stt.SessionHandle.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
