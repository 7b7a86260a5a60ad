package call

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) messages(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("sent message is not JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func newTestSession(conn Conn) *Session {
	return NewSession(context.Background(), "call-1", "inbound", nil, conn, nil)
}

func TestSession_OutboundSeqsAreDenseFromZero(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	s := newTestSession(conn)
	defer s.Close()

	frame := make([]byte, 640)
	for i := 0; i < 3; i++ {
		if err := s.SendAudioFrame(frame); err != nil {
			t.Fatalf("SendAudioFrame() error: %v", err)
		}
	}

	msgs := conn.messages(t)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m["type"] != "audio_out" {
			t.Errorf("message %d type = %v", i, m["type"])
		}
		if got := int64(m["seq"].(float64)); got != int64(i) {
			t.Errorf("message %d seq = %d, want %d", i, got, i)
		}
		pcm, err := base64.StdEncoding.DecodeString(m["data"].(string))
		if err != nil || len(pcm) != 640 {
			t.Errorf("message %d payload: %d bytes, err %v", i, len(pcm), err)
		}
	}
	if st := s.Snapshot(); st.LastSentSeq != 2 || st.FramesSent != 3 {
		t.Errorf("snapshot = %+v", st)
	}
}

func TestSession_FailedSendDoesNotConsumeSeq(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	s := newTestSession(conn)
	defer s.Close()

	conn.setErr(errors.New("socket closed"))
	if err := s.SendAudioFrame(make([]byte, 640)); err == nil {
		t.Fatal("send succeeded against a failing connection")
	}
	conn.setErr(nil)
	if err := s.SendAudioFrame(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudioFrame() error: %v", err)
	}

	msgs := conn.messages(t)
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if got := int64(msgs[0]["seq"].(float64)); got != 0 {
		t.Errorf("seq after failed send = %d, want 0", got)
	}
}

// gatedConn blocks every Send until its gate is closed.
type gatedConn struct {
	id   string
	gate chan struct{}

	mu   sync.Mutex
	sent int
}

func (c *gatedConn) ID() string { return c.id }

func (c *gatedConn) Send(data []byte) error {
	<-c.gate
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	return nil
}

func TestSession_SlowSendDoesNotBlockInbound(t *testing.T) {
	t.Parallel()

	conn := &gatedConn{id: "conn-1", gate: make(chan struct{})}
	s := NewSession(context.Background(), "call-1", "inbound", nil, conn, nil)
	defer s.Close()

	received := make(chan []byte, 1)
	s.BindPipeline(func(pcm []byte) error {
		received <- pcm
		return nil
	})

	sendDone := make(chan error, 1)
	go func() { sendDone <- s.SendAudioFrame(make([]byte, 640)) }()

	// The inbound path must stay clear while the outbound write stalls on
	// the gateway socket.
	go s.HandleAudioIn("conn-1", 0, make([]byte, 640))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("inbound audio blocked behind a stalled outbound send")
	}

	close(conn.gate)
	if err := <-sendDone; err != nil {
		t.Fatalf("SendAudioFrame() error: %v", err)
	}
	if st := s.Snapshot(); st.LastSentSeq != 0 {
		t.Errorf("LastSentSeq = %d, want 0", st.LastSentSeq)
	}
}

func TestSession_InboundOwnershipAndSize(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	s := newTestSession(conn)
	defer s.Close()

	var mu sync.Mutex
	var received [][]byte
	s.BindPipeline(func(pcm []byte) error {
		mu.Lock()
		received = append(received, pcm)
		mu.Unlock()
		return nil
	})

	s.HandleAudioIn("conn-other", 0, make([]byte, 640)) // foreign connection
	s.HandleAudioIn("conn-1", 1, make([]byte, 639))     // wrong size
	s.HandleAudioIn("conn-1", 2, make([]byte, 640))     // accepted

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("pipeline received %d buffers, want 1", len(received))
	}
	// 640 bytes at 16 kHz upsample to 960 bytes at 24 kHz.
	if len(received[0]) != 960 {
		t.Errorf("upsampled buffer = %d bytes, want 960", len(received[0]))
	}
	if st := s.Snapshot(); st.FramesReceived != 1 || st.LastRecvSeq != 2 {
		t.Errorf("snapshot = %+v", st)
	}
}

func TestSession_RebindSwapsOwnership(t *testing.T) {
	t.Parallel()

	first := &fakeConn{id: "conn-1"}
	second := &fakeConn{id: "conn-2"}
	s := newTestSession(first)
	defer s.Close()

	s.Rebind(second, 42)

	if s.OwnsConnection("conn-1") {
		t.Error("session still owns the old connection")
	}
	if !s.OwnsConnection("conn-2") {
		t.Error("session does not own the new connection")
	}
	if err := s.SendAudioFrame(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudioFrame() after rebind: %v", err)
	}
	if len(second.messages(t)) != 1 || len(first.messages(t)) != 0 {
		t.Error("frame went to the wrong connection after rebind")
	}
}

func TestSession_CloseRunsClosersOnceInReverse(t *testing.T) {
	t.Parallel()

	s := newTestSession(&fakeConn{id: "conn-1"})

	var order []string
	s.BindPipeline(nil,
		func() { order = append(order, "first") },
		func() { order = append(order, "second") },
	)

	s.Close()
	s.Close()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("closer order = %v, want [second first]", order)
	}
	select {
	case <-s.Context().Done():
	default:
		t.Error("session context not cancelled by Close")
	}
}

func TestRegistry_CapacityAndDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2, 0, nil, nil)

	a := NewSession(context.Background(), "a", "inbound", nil, &fakeConn{id: "c1"}, nil)
	b := NewSession(context.Background(), "b", "inbound", nil, &fakeConn{id: "c2"}, nil)
	c := NewSession(context.Background(), "c", "inbound", nil, &fakeConn{id: "c3"}, nil)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	if err := r.Add(a); err != nil {
		t.Fatalf("Add(a) error: %v", err)
	}
	if err := r.Add(a); !errors.Is(err, ErrDuplicateCall) {
		t.Errorf("Add(a) again = %v, want ErrDuplicateCall", err)
	}
	if err := r.Add(b); err != nil {
		t.Fatalf("Add(b) error: %v", err)
	}
	if err := r.Add(c); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Add(c) = %v, want ErrCapacityExceeded", err)
	}

	if _, ok := r.Remove("a"); !ok {
		t.Fatal("Remove(a) found nothing")
	}
	if err := r.Add(c); err != nil {
		t.Errorf("Add(c) after removal: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_OneCallPerConnection(t *testing.T) {
	t.Parallel()

	r := NewRegistry(5, 0, nil, nil)
	conn := &fakeConn{id: "conn-1"}

	a := NewSession(context.Background(), "a", "inbound", nil, conn, nil)
	b := NewSession(context.Background(), "b", "inbound", nil, conn, nil)
	defer a.Close()
	defer b.Close()

	if err := r.Add(a); err != nil {
		t.Fatalf("Add(a) error: %v", err)
	}
	if err := r.Add(b); !errors.Is(err, ErrConnectionBusy) {
		t.Errorf("Add(b) on a busy connection = %v, want ErrConnectionBusy", err)
	}

	if _, ok := r.Remove("a"); !ok {
		t.Fatal("Remove(a) found nothing")
	}
	if err := r.Add(b); err != nil {
		t.Errorf("Add(b) after the connection freed: %v", err)
	}
}

func TestRegistry_DurationExpiry(t *testing.T) {
	t.Parallel()

	expired := make(chan string, 1)
	r := NewRegistry(5, 20*time.Millisecond, func(s *Session) {
		expired <- s.CallID
	}, nil)

	s := NewSession(context.Background(), "long-call", "inbound", nil, &fakeConn{id: "c1"}, nil)
	defer s.Close()
	if err := r.Add(s); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	select {
	case id := <-expired:
		if id != "long-call" {
			t.Errorf("expired call = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("duration expiry never fired")
	}
}

func TestRegistry_ByConnection(t *testing.T) {
	t.Parallel()

	r := NewRegistry(5, 0, nil, nil)
	s := NewSession(context.Background(), "c6", "inbound", nil, &fakeConn{id: "conn-1"}, nil)
	defer s.Close()
	if err := r.Add(s); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if got := r.ByConnection("conn-1"); len(got) != 1 || got[0].CallID != "c6" {
		t.Fatalf("ByConnection(conn-1) = %v", got)
	}
	if got := r.ByConnection("conn-2"); len(got) != 0 {
		t.Fatalf("ByConnection(conn-2) = %v", got)
	}
}
