package call

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arens-io/voicelink/internal/observe"
)

// Registry errors.
var (
	// ErrDuplicateCall means a session with the same call-id already exists.
	ErrDuplicateCall = errors.New("call: duplicate call id")

	// ErrCapacityExceeded means the concurrent-call cap is reached.
	ErrCapacityExceeded = errors.New("call: max concurrent calls reached")

	// ErrConnectionBusy means the session's connection already carries an
	// active call.
	ErrConnectionBusy = errors.New("call: connection already carries an active call")
)

// Registry maps call-id to live session and enforces the concurrent-call cap
// and the per-call duration cap. Expired sessions are handed to the expire
// callback; the registry never tears them down itself.
type Registry struct {
	maxCalls    int
	maxDuration time.Duration
	onExpire    func(s *Session)
	log         *slog.Logger
	metrics     *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
}

// NewRegistry builds a registry. onExpire fires from a timer goroutine when a
// session outlives maxDuration; a zero maxDuration disables expiry.
func NewRegistry(maxCalls int, maxDuration time.Duration, onExpire func(*Session), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		maxCalls:    maxCalls,
		maxDuration: maxDuration,
		onExpire:    onExpire,
		log:         log,
		metrics:     observe.DefaultMetrics(),
		sessions:    make(map[string]*Session),
		timers:      make(map[string]*time.Timer),
	}
}

// Add registers a session and starts its duration timer. A gateway
// connection carries at most one active call.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.CallID]; ok {
		return ErrDuplicateCall
	}
	if connID := s.ConnectionID(); connID != "" {
		for _, existing := range r.sessions {
			if existing.OwnsConnection(connID) {
				return ErrConnectionBusy
			}
		}
	}
	if r.maxCalls > 0 && len(r.sessions) >= r.maxCalls {
		return ErrCapacityExceeded
	}
	r.sessions[s.CallID] = s

	if r.maxDuration > 0 {
		id := s.CallID
		r.timers[id] = time.AfterFunc(r.maxDuration, func() {
			r.expire(id)
		})
	}
	r.metrics.ActiveCalls.Add(s.Context(), 1)
	return nil
}

func (r *Registry) expire(callID string) {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.log.Info("call exceeded max duration", "call_id", callID)
	if r.onExpire != nil {
		r.onExpire(s)
	}
}

// Get returns the session for callID, if present.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove unregisters and returns the session for callID, stopping its
// duration timer. The caller is responsible for closing the session.
func (r *Registry) Remove(callID string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
		if t, has := r.timers[callID]; has {
			t.Stop()
			delete(r.timers, callID)
		}
	}
	r.mu.Unlock()
	if ok {
		r.metrics.ActiveCalls.Add(s.Context(), -1)
	}
	return s, ok
}

// ByConnection returns every session bound to connID, for teardown when a
// gateway connection drops.
func (r *Registry) ByConnection(connID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.OwnsConnection(connID) {
			out = append(out, s)
		}
	}
	return out
}

// All returns a snapshot of every live session.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
