// Package postgres provides a PostgreSQL-backed implementation of the
// session store contract.
//
// All records land in a single voicelink_session_records table; the schema
// is installed on first connect via CREATE TABLE IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.RecordInboundSession(ctx, memory.SessionKey("u1"), msgCtx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arens-io/voicelink/pkg/memory"
)

// Compile-time interface check.
var _ memory.SessionStore = (*Store)(nil)

const ddlSessionRecords = `
CREATE TABLE IF NOT EXISTS voicelink_session_records (
    id           BIGSERIAL    PRIMARY KEY,
    session_key  TEXT         NOT NULL,
    body         TEXT         NOT NULL,
    from_id      TEXT         NOT NULL DEFAULT '',
    to_id        TEXT         NOT NULL DEFAULT '',
    sender_id    TEXT         NOT NULL DEFAULT '',
    sender_name  TEXT         NOT NULL DEFAULT '',
    provider     TEXT         NOT NULL DEFAULT '',
    surface      TEXT         NOT NULL DEFAULT '',
    chat_type    TEXT         NOT NULL DEFAULT '',
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voicelink_session_records_key
    ON voicelink_session_records (session_key);

CREATE INDEX IF NOT EXISTS idx_voicelink_session_records_timestamp
    ON voicelink_session_records (timestamp);
`

// Store is a PostgreSQL-backed session store. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the database at
// dsn, and ensures the records table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlSessionRecords); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// RecordInboundSession implements [memory.SessionStore]. It appends one
// record under sessionKey; the session is implicit in the key, so a first
// record creates it.
func (s *Store) RecordInboundSession(ctx context.Context, sessionKey string, msg memory.MsgContext) error {
	const q = `
		INSERT INTO voicelink_session_records
		    (session_key, body, from_id, to_id, sender_id, sender_name, provider, surface, chat_type, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		sessionKey,
		msg.Body,
		msg.From,
		msg.To,
		msg.SenderID,
		msg.SenderName,
		msg.Provider,
		msg.Surface,
		msg.ChatType,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: record session: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
