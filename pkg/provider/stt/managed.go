package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arens-io/voicelink/internal/resilience"
)

// ErrReconnectExhausted is returned by a managed session's Err when the
// upstream could not be re-established within the backoff budget.
var ErrReconnectExhausted = errors.New("stt: reconnect attempts exhausted")

// Compile-time assertion that ManagedSession satisfies SessionHandle.
var _ SessionHandle = (*ManagedSession)(nil)

// ManagedSession wraps a provider session and transparently reconnects when
// the upstream drops. While a reconnect is in progress, SendAudio drops
// frames without error: the caller is still speaking in real time and stale
// audio is worthless by the time the stream is back.
//
// After the backoff budget is spent the session ends with
// ErrReconnectExhausted and the caller is expected to terminate the call.
type ManagedSession struct {
	provider Provider
	cfg      StreamConfig
	backoff  resilience.Backoff
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	current SessionHandle
	err     error
	dropped int64
}

// ManagedOption configures a ManagedSession.
type ManagedOption func(*ManagedSession)

// WithBackoff overrides the reconnect policy. The default is
// resilience.Default (1 s doubling, five attempts).
func WithBackoff(b resilience.Backoff) ManagedOption {
	return func(m *ManagedSession) {
		m.backoff = b
	}
}

// WithLogger sets the logger for reconnect events.
func WithLogger(log *slog.Logger) ManagedOption {
	return func(m *ManagedSession) {
		m.log = log
	}
}

// StartManagedStream opens a transcription session through provider and
// supervises it for the lifetime of ctx.
func StartManagedStream(ctx context.Context, provider Provider, cfg StreamConfig, opts ...ManagedOption) (*ManagedSession, error) {
	m := &ManagedSession{
		provider: provider,
		cfg:      cfg,
		backoff:  resilience.Default,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}

	first, err := provider.StartStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("stt: start stream: %w", err)
	}

	superCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.current = first

	go m.supervise(superCtx, first)
	return m, nil
}

// SendAudio forwards a chunk to the live upstream session. During a
// reconnect window the chunk is silently dropped.
func (m *ManagedSession) SendAudio(chunk []byte) error {
	select {
	case <-m.done:
		return errors.New("stt: managed session is closed")
	default:
	}

	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()

	if sess == nil {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		return nil
	}
	if err := sess.SendAudio(chunk); err != nil {
		// The session died between the snapshot and the send; the
		// supervisor will notice. Treat as a backoff-window drop.
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
	}
	return nil
}

// Done implements SessionHandle.
func (m *ManagedSession) Done() <-chan struct{} { return m.done }

// Err implements SessionHandle.
func (m *ManagedSession) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// DroppedFrames reports how many chunks were discarded during reconnects.
func (m *ManagedSession) DroppedFrames() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close terminates the supervisor and the current upstream session.
func (m *ManagedSession) Close() error {
	m.finish(nil)
	return nil
}

// finish records the terminal error and tears everything down exactly once.
func (m *ManagedSession) finish(err error) {
	m.once.Do(func() {
		m.mu.Lock()
		m.err = err
		sess := m.current
		m.current = nil
		m.mu.Unlock()

		if m.cancel != nil {
			m.cancel()
		}
		if sess != nil {
			_ = sess.Close()
		}
		close(m.done)
	})
}

// supervise watches the current upstream session and reconnects with backoff
// when it fails. A session that ends cleanly (nil error) ends the managed
// session cleanly too.
func (m *ManagedSession) supervise(ctx context.Context, sess SessionHandle) {
	for {
		select {
		case <-ctx.Done():
			m.finish(nil)
			return
		case <-sess.Done():
		}

		cause := sess.Err()
		if cause == nil {
			m.finish(nil)
			return
		}

		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
		m.log.Warn("stt stream lost, reconnecting", "error", cause)

		next, err := m.reconnect(ctx)
		if err != nil {
			m.finish(err)
			return
		}

		m.mu.Lock()
		m.current = next
		m.mu.Unlock()
		sess = next
		m.log.Info("stt stream re-established")
	}
}

// reconnect retries StartStream under the backoff policy.
func (m *ManagedSession) reconnect(ctx context.Context) (SessionHandle, error) {
	var lastErr error
	for attempt := 1; m.backoff.Allowed(attempt); attempt++ {
		delay := m.backoff.Delay(attempt)
		m.log.Info("stt reconnect scheduled", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		sess, err := m.provider.StartStream(ctx, m.cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		m.log.Warn("stt reconnect attempt failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrReconnectExhausted, lastErr)
}
