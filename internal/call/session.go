package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/internal/protocol"
	"github.com/arens-io/voicelink/pkg/audio"
)

// Conn is the gateway connection surface a session sends on. Implemented by
// the bridge's connection type; sends must respect the transport's own
// timeout discipline.
type Conn interface {
	// ID identifies the connection for ownership checks.
	ID() string

	// Send writes one wire message to the gateway.
	Send(data []byte) error
}

// Session is the per-call state machine. It binds one call to one live
// gateway connection, numbers outbound frames densely, and feeds accepted
// inbound audio to the call's voice pipeline.
//
// A session implements voice.FrameSink so the playout pacer can deliver
// frames directly.
type Session struct {
	CallID    string
	Direction string
	Metadata  *protocol.CallerMetadata
	StartedAt time.Time

	log     *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// sendMu serializes gateway writes so sequence numbers commit in send
	// order. The state mutex is never held across a network write, keeping
	// the inbound path clear of outbound I/O stalls.
	sendMu sync.Mutex

	mu         sync.Mutex
	conn       Conn
	answeredAt time.Time
	nextSeq    int64
	lastSent   int64
	lastRecv   int64
	framesIn   int64
	framesOut  int64

	// audioIn receives accepted inbound audio upsampled to 24 kHz. Set by
	// BindPipeline once the voice pipeline for the call exists.
	audioIn func(pcm []byte) error

	closeOnce sync.Once
	closers   []func()
}

// Stats is a point-in-time snapshot of a session's counters.
type Stats struct {
	CallID         string
	Direction      string
	StartedAt      time.Time
	AnsweredAt     time.Time
	LastSentSeq    int64
	LastRecvSeq    int64
	FramesReceived int64
	FramesSent     int64
	ConnectionID   string
}

// NewSession creates a session bound to conn. The parent context bounds all
// of the call's pipeline activity.
func NewSession(parent context.Context, callID, direction string, md *protocol.CallerMetadata, conn Conn, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		CallID:    callID,
		Direction: direction,
		Metadata:  md,
		StartedAt: time.Now(),
		log:       log.With("call_id", callID),
		metrics:   observe.DefaultMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		conn:      conn,
		lastSent:  -1,
	}
}

// Context returns the session's lifetime context. It is cancelled when the
// session closes.
func (s *Session) Context() context.Context { return s.ctx }

// MarkAnswered records when call media was established.
func (s *Session) MarkAnswered() {
	s.mu.Lock()
	s.answeredAt = time.Now()
	s.mu.Unlock()
}

// BindPipeline attaches the call's voice pipeline: audioIn receives inbound
// 24 kHz PCM, and closers run (in reverse order) when the session closes.
func (s *Session) BindPipeline(audioIn func(pcm []byte) error, closers ...func()) {
	s.mu.Lock()
	s.audioIn = audioIn
	s.closers = append(s.closers, closers...)
	s.mu.Unlock()
}

// SendAudioFrame delivers one 640-byte outbound frame to the gateway with
// the next dense sequence number. The number is consumed only on a
// successful send.
func (s *Session) SendAudioFrame(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	seq := s.nextSeq
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("call %s: no bound connection", s.CallID)
	}
	data, err := protocol.EncodeAudioOut(s.CallID, seq, frame)
	if err != nil {
		return fmt.Errorf("call %s: encode audio_out: %w", s.CallID, err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("call %s: send audio_out: %w", s.CallID, err)
	}
	s.mu.Lock()
	s.nextSeq = seq + 1
	s.lastSent = seq
	s.framesOut++
	s.mu.Unlock()
	s.metrics.FramesOut.Add(s.ctx, 1)
	return nil
}

// SendFlush tells the gateway to discard its buffered outbound audio.
func (s *Session) SendFlush() error {
	return s.sendControl(protocol.TypeFlush)
}

// SendHangup asks the gateway to terminate the call.
func (s *Session) SendHangup() error {
	return s.sendControl(protocol.TypeHangup)
}

func (s *Session) sendControl(msgType string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("call %s: no bound connection", s.CallID)
	}
	data, err := protocol.EncodeControl(msgType, s.CallID)
	if err != nil {
		return fmt.Errorf("call %s: encode %s: %w", s.CallID, msgType, err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("call %s: send %s: %w", s.CallID, msgType, err)
	}
	return nil
}

// HandleAudioIn accepts one inbound frame from connID. Frames from a
// non-owning connection or with the wrong size are dropped without touching
// session state. Accepted frames are upsampled to 24 kHz and handed to the
// pipeline.
func (s *Session) HandleAudioIn(connID string, seq int64, pcm []byte) {
	s.mu.Lock()
	owner := s.conn != nil && s.conn.ID() == connID
	if !owner {
		s.mu.Unlock()
		s.metrics.RecordFrameDrop(s.ctx, "foreign-connection")
		return
	}
	if len(pcm) != audio.GatewayFrameBytes {
		s.mu.Unlock()
		s.log.Debug("dropping inbound frame with wrong size", "bytes", len(pcm), "seq", seq)
		s.metrics.RecordFrameDrop(s.ctx, "bad-size")
		return
	}
	s.lastRecv = seq
	s.framesIn++
	sink := s.audioIn
	s.mu.Unlock()

	s.metrics.FramesIn.Add(s.ctx, 1)
	if sink == nil {
		return
	}
	if err := sink(audio.Upsample16To24(pcm)); err != nil {
		s.log.Warn("pipeline rejected inbound audio", "error", err)
	}
}

// Rebind swaps the session onto a new connection after a gateway reconnect.
// Outbound numbering continues where it left off; the gateway replays from
// its own buffer.
func (s *Session) Rebind(conn Conn, lastReceivedSeq int64) {
	s.mu.Lock()
	old := ""
	if s.conn != nil {
		old = s.conn.ID()
	}
	s.conn = conn
	s.mu.Unlock()
	s.log.Info("session rebound to new connection",
		"old_connection", old,
		"new_connection", conn.ID(),
		"gateway_last_received_seq", lastReceivedSeq,
	)
}

// ConnectionID returns the bound connection's id, or empty when unbound.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ID()
}

// OwnsConnection reports whether connID is the session's bound connection.
func (s *Session) OwnsConnection(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.ID() == connID
}

// Snapshot returns a copy of the session's counters for external readers.
func (s *Session) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	connID := ""
	if s.conn != nil {
		connID = s.conn.ID()
	}
	return Stats{
		CallID:         s.CallID,
		Direction:      s.Direction,
		StartedAt:      s.StartedAt,
		AnsweredAt:     s.answeredAt,
		LastSentSeq:    s.lastSent,
		LastRecvSeq:    s.lastRecv,
		FramesReceived: s.framesIn,
		FramesSent:     s.framesOut,
		ConnectionID:   connID,
	}
}

// Close cancels the session context and tears the pipeline down, newest
// closer first. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		closers := s.closers
		s.closers = nil
		s.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	})
}
