package voice

import (
	"sync"
	"time"
)

// maxLogEntries bounds the per-caller conversation log. Oldest turns are
// evicted first.
const maxLogEntries = 50

// Turn is one user or assistant utterance.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// ConversationLog is a bounded FIFO transcript log shared between responses
// of one caller identity. Safe for concurrent use.
type ConversationLog struct {
	mu    sync.Mutex
	turns []Turn
}

// NewConversationLog creates an empty log.
func NewConversationLog() *ConversationLog {
	return &ConversationLog{}
}

// Append records a turn, evicting the oldest entry past the cap.
func (l *ConversationLog) Append(role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, Turn{Role: role, Text: text, At: time.Now()})
	if len(l.turns) > maxLogEntries {
		l.turns = l.turns[len(l.turns)-maxLogEntries:]
	}
}

// Recent returns up to n of the latest turns, oldest first.
func (l *ConversationLog) Recent(n int) []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(l.turns)-start)
	copy(out, l.turns[start:])
	return out
}

// Len reports the current number of turns.
func (l *ConversationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}
