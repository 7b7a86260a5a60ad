// Package memory defines the session store contract the bridge records call
// transcripts into.
//
// The bridge never interprets stored data; only the session key format and
// the message-context envelope are part of the contract. Stores must be safe
// for concurrent use.
package memory

import (
	"context"
	"strings"
	"time"
)

// KeyProvider is the provider token used in session keys and record
// envelopes for corporate voice-platform calls.
const KeyProvider = "msteams-call"

// SessionKey derives the per-caller session key: "msteams-call:{user-id}"
// with the user id lowercased.
func SessionKey(userID string) string {
	return KeyProvider + ":" + strings.ToLower(userID)
}

// MsgContext is the envelope written with every session record. Field
// semantics follow the host's message-context shape so downstream consumers
// can treat call records like any other conversation record.
type MsgContext struct {
	// Body is the record text: a lifecycle marker or a final transcript.
	Body string

	// From and To identify the conversation endpoints.
	From string
	To   string

	// SenderID and SenderName identify who produced the body.
	SenderID   string
	SenderName string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Provider and Surface are both KeyProvider for bridge records.
	Provider string
	Surface  string

	// ChatType is "direct" for one-on-one calls.
	ChatType string
}

// SessionStore persists session records keyed by caller identity.
//
// RecordInboundSession appends one record under sessionKey, creating the
// session if it does not exist. Errors are returned to the caller; the
// bridge treats them as best-effort and never fails a call over them.
type SessionStore interface {
	RecordInboundSession(ctx context.Context, sessionKey string, msg MsgContext) error
}
