package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arens-io/voicelink/internal/call"
	"github.com/arens-io/voicelink/internal/config"
	"github.com/arens-io/voicelink/internal/protocol"
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

func (c *fakeConn) lastMessage(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("nothing was sent")
	}
	var m map[string]any
	if err := json.Unmarshal(c.sent[len(c.sent)-1], &m); err != nil {
		t.Fatalf("sent message is not JSON: %v", err)
	}
	return m
}

type fakePicker struct {
	conn call.Conn
}

func (p *fakePicker) PickConnection() (call.Conn, bool) {
	if p.conn == nil {
		return nil, false
	}
	return p.conn, true
}

func enabledCfg() config.OutboundConfig {
	return config.OutboundConfig{Enabled: true, RingTimeoutMs: 30000}
}

func TestCoordinator_DisabledFailsImmediately(t *testing.T) {
	t.Parallel()

	c := New(config.OutboundConfig{Enabled: false}, &fakePicker{}, nil)
	_, err := c.Initiate(context.Background(), "C1", protocol.Target{Type: "user", UserID: "U1"}, "", time.Second)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Initiate() = %v, want ErrDisabled", err)
	}
}

func TestCoordinator_NoConnectionFails(t *testing.T) {
	t.Parallel()

	c := New(enabledCfg(), &fakePicker{}, nil)
	_, err := c.Initiate(context.Background(), "C1", protocol.Target{Type: "user", UserID: "U1"}, "", time.Second)
	if !errors.Is(err, ErrGatewayNotConnected) {
		t.Fatalf("Initiate() = %v, want ErrGatewayNotConnected", err)
	}
}

func TestCoordinator_SessionStartResolvesSuccess(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	c := New(enabledCfg(), &fakePicker{conn: conn}, nil)

	result := make(chan error, 1)
	go func() {
		_, err := c.Initiate(context.Background(), "C2",
			protocol.Target{Type: "user", UserID: "U9"}, "Hello there", 5*time.Second)
		result <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	msg := conn.lastMessage(t)
	if msg["type"] != "initiate_call" || msg["callId"] != "C2" {
		t.Fatalf("wire message = %v", msg)
	}
	if msg["message"] != "Hello there" {
		t.Errorf("greeting = %v", msg["message"])
	}

	// Ringing is informational and must not resolve.
	c.HandleCallStatus("C2", protocol.StatusRinging, "")
	select {
	case err := <-result:
		t.Fatalf("ringing resolved the call: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if !c.ResolveSessionStart("C2") {
		t.Fatal("ResolveSessionStart did not match the pending call")
	}
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Initiate() = %v, want success", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initiate never returned")
	}
	if c.PendingCount() != 0 {
		t.Error("pending entry survived resolution")
	}
}

func TestCoordinator_TerminalStatusFails(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	c := New(enabledCfg(), &fakePicker{conn: conn}, nil)

	result := make(chan error, 1)
	go func() {
		_, err := c.Initiate(context.Background(), "C3",
			protocol.Target{Type: "phone", Number: "+15550001"}, "", 5*time.Second)
		result <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.HandleCallStatus("C3", protocol.StatusBusy, "line busy")

	select {
	case err := <-result:
		if err == nil || !strings.Contains(err.Error(), "line busy") {
			t.Fatalf("Initiate() = %v, want busy failure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initiate never returned")
	}
}

func TestCoordinator_RingTimeout(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	c := New(enabledCfg(), &fakePicker{conn: conn}, nil)

	start := time.Now()
	_, err := c.Initiate(context.Background(), "C2",
		protocol.Target{Type: "user", UserID: "U9"}, "", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Initiate() = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("resolved after %v, before the deadline", elapsed)
	}
	if c.PendingCount() != 0 {
		t.Error("pending entry survived timeout")
	}
}

func TestCoordinator_ConnectionDropFailsPending(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	c := New(enabledCfg(), &fakePicker{conn: conn}, nil)

	result := make(chan error, 1)
	go func() {
		_, err := c.Initiate(context.Background(), "C5",
			protocol.Target{Type: "user", UserID: "U1"}, "", 5*time.Second)
		result <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.FailConnection("conn-1")

	select {
	case err := <-result:
		if !errors.Is(err, ErrGatewayNotConnected) {
			t.Fatalf("Initiate() = %v, want ErrGatewayNotConnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initiate never returned")
	}
}

func TestCoordinator_GeneratesCallID(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{id: "conn-1"}
	c := New(enabledCfg(), &fakePicker{conn: conn}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	id, err := c.Initiate(ctx, "", protocol.Target{Type: "user", UserID: "U1"}, "", time.Second)
	if err == nil {
		t.Fatal("expected context expiry")
	}
	if !strings.HasPrefix(id, "out-") {
		t.Errorf("generated call id = %q, want out- prefix", id)
	}
	if !protocol.ValidCallID(id) {
		t.Errorf("generated call id %q fails wire validation", id)
	}
}
