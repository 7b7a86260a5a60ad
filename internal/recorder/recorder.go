// Package recorder writes call lifecycle events and final transcripts to the
// external session store. Every write is best-effort: failures are logged at
// warn level and swallowed so recording can never affect a live call.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arens-io/voicelink/pkg/memory"
)

// Recorder emits call-start, transcript-final, and call-end records. A nil
// store disables recording entirely; every method stays safe to call.
type Recorder struct {
	store memory.SessionStore
	log   *slog.Logger
}

// New builds a recorder over store. store may be nil.
func New(store memory.SessionStore, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: store, log: log}
}

// CallStart records that a call with userID began.
func (r *Recorder) CallStart(ctx context.Context, callID, userID, displayName string) {
	r.write(ctx, callID, userID, memory.MsgContext{
		Body:       fmt.Sprintf("[call started: %s]", callID),
		From:       userID,
		To:         "bridge",
		SenderID:   userID,
		SenderName: displayName,
	})
}

// TranscriptFinal records one committed turn of the conversation. role is
// "user" or "assistant".
func (r *Recorder) TranscriptFinal(ctx context.Context, callID, userID, role, text string) {
	if text == "" {
		return
	}
	from, to, senderID := userID, "bridge", userID
	if role == "assistant" {
		from, to, senderID = "bridge", userID, "bridge"
	}
	r.write(ctx, callID, userID, memory.MsgContext{
		Body:     text,
		From:     from,
		To:       to,
		SenderID: senderID,
	})
}

// CallEnd records that the call terminated with the given reason.
func (r *Recorder) CallEnd(ctx context.Context, callID, userID, reason string) {
	r.write(ctx, callID, userID, memory.MsgContext{
		Body:     fmt.Sprintf("[call ended: %s, reason: %s]", callID, reason),
		From:     userID,
		To:       "bridge",
		SenderID: userID,
	})
}

func (r *Recorder) write(ctx context.Context, callID, userID string, msg memory.MsgContext) {
	if r.store == nil || userID == "" {
		return
	}
	msg.Timestamp = time.Now()
	msg.Provider = memory.KeyProvider
	msg.Surface = memory.KeyProvider
	msg.ChatType = "direct"

	key := memory.SessionKey(userID)
	if err := r.store.RecordInboundSession(ctx, key, msg); err != nil {
		r.log.Warn("session record write failed",
			"call_id", callID,
			"session_key", key,
			"error", err,
		)
	}
}
