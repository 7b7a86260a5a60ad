// Package mock provides an in-memory memory.SessionStore for tests.
package mock

import (
	"context"
	"sync"

	"github.com/arens-io/voicelink/pkg/memory"
)

// Compile-time interface check.
var _ memory.SessionStore = (*Store)(nil)

// Record is one stored session record.
type Record struct {
	SessionKey string
	Msg        memory.MsgContext
}

// Store is an in-memory session store.
type Store struct {
	mu      sync.Mutex
	records []Record

	// Err, when non-nil, is returned by every RecordInboundSession call.
	Err error
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Records returns a copy of everything stored so far.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// RecordInboundSession implements memory.SessionStore.
func (s *Store) RecordInboundSession(_ context.Context, sessionKey string, msg memory.MsgContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, Record{SessionKey: sessionKey, Msg: msg})
	return nil
}
