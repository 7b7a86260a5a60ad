// Package outbound coordinates bridge-initiated calls: it sends
// initiate_call toward the gateway and resolves each attempt from the
// session_start or call_status messages that come back.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arens-io/voicelink/internal/call"
	"github.com/arens-io/voicelink/internal/config"
	"github.com/arens-io/voicelink/internal/protocol"
)

// Coordinator errors.
var (
	// ErrDisabled means outbound calling is switched off in configuration.
	ErrDisabled = errors.New("outbound: outbound calling is disabled")

	// ErrGatewayNotConnected means no live gateway connection exists.
	ErrGatewayNotConnected = errors.New("outbound: no gateway connection")

	// ErrTimeout means the target did not answer within the ring timeout.
	ErrTimeout = errors.New("outbound: ring timeout")
)

// ConnPicker supplies a live gateway connection for outbound signalling.
// Implementations rotate over open connections.
type ConnPicker interface {
	PickConnection() (call.Conn, bool)
}

type outcome struct {
	err error
}

type pendingCall struct {
	connID string
	done   chan outcome
	once   sync.Once
	timer  *time.Timer
}

func (p *pendingCall) resolve(err error) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- outcome{err: err}
	})
}

// Coordinator owns the pending-call table. One entry exists per in-flight
// initiate attempt, keyed by call-id, resolved exactly once.
type Coordinator struct {
	cfg    config.OutboundConfig
	picker ConnPicker
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// New builds a coordinator over the given connection picker.
func New(cfg config.OutboundConfig, picker ConnPicker, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		picker:  picker,
		log:     log,
		pending: make(map[string]*pendingCall),
	}
}

// Initiate starts an outbound call toward target and blocks until the
// gateway answers it, rejects it, or the ring timeout expires. An empty
// callID gets a generated one; the id used is returned either way.
func (c *Coordinator) Initiate(ctx context.Context, callID string, target protocol.Target, greeting string, timeout time.Duration) (string, error) {
	if !c.cfg.Enabled {
		return "", ErrDisabled
	}
	if callID == "" {
		callID = "out-" + uuid.NewString()
	}
	if timeout <= 0 {
		timeout = time.Duration(c.cfg.RingTimeoutMs) * time.Millisecond
	}

	conn, ok := c.picker.PickConnection()
	if !ok {
		return callID, ErrGatewayNotConnected
	}

	p := &pendingCall{
		connID: conn.ID(),
		done:   make(chan outcome, 1),
	}
	c.mu.Lock()
	if _, exists := c.pending[callID]; exists {
		c.mu.Unlock()
		return callID, fmt.Errorf("outbound: call %s already pending", callID)
	}
	c.pending[callID] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(timeout, func() {
		c.finish(callID, ErrTimeout)
	})

	data, err := protocol.EncodeInitiateCall(callID, target, greeting)
	if err != nil {
		c.finish(callID, fmt.Errorf("outbound: encode initiate_call: %w", err))
	} else if err := conn.Send(data); err != nil {
		c.finish(callID, fmt.Errorf("outbound: send initiate_call: %w", err))
	} else {
		c.log.Info("outbound call initiated",
			"call_id", callID,
			"target_type", target.Type,
			"timeout", timeout,
		)
	}

	select {
	case out := <-p.done:
		return callID, out.err
	case <-ctx.Done():
		c.finish(callID, ctx.Err())
		return callID, ctx.Err()
	}
}

// finish resolves and removes the pending entry for callID, if any.
func (c *Coordinator) finish(callID string, err error) {
	c.mu.Lock()
	p, ok := c.pending[callID]
	if ok {
		delete(c.pending, callID)
	}
	c.mu.Unlock()
	if ok {
		p.resolve(err)
	}
}

// ResolveSessionStart marks the pending call answered. Returns whether the
// call-id matched a pending entry.
func (c *Coordinator) ResolveSessionStart(callID string) bool {
	c.mu.Lock()
	_, ok := c.pending[callID]
	c.mu.Unlock()
	if ok {
		c.finish(callID, nil)
	}
	return ok
}

// HandleCallStatus applies one call_status message. Ringing and answered are
// informational; terminal statuses fail the pending call with the gateway's
// error string.
func (c *Coordinator) HandleCallStatus(callID, status, errMsg string) {
	switch status {
	case protocol.StatusRinging, protocol.StatusAnswered:
		c.log.Debug("outbound call progress", "call_id", callID, "status", status)
	case protocol.StatusFailed, protocol.StatusBusy, protocol.StatusNoAnswer:
		if errMsg == "" {
			errMsg = status
		}
		c.finish(callID, fmt.Errorf("outbound: call %s: %s", status, errMsg))
	default:
		c.log.Warn("unrecognized call_status", "call_id", callID, "status", status)
	}
}

// FailConnection rejects every pending call signalled over connID, used when
// that gateway connection drops.
func (c *Coordinator) FailConnection(connID string) {
	c.mu.Lock()
	var doomed []string
	for id, p := range c.pending {
		if p.connID == connID {
			doomed = append(doomed, id)
		}
	}
	c.mu.Unlock()
	for _, id := range doomed {
		c.finish(id, ErrGatewayNotConnected)
	}
}

// Shutdown fails every pending call, used on bridge stop.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	var ids []string
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.finish(id, context.Canceled)
	}
}

// PendingCount reports the number of unresolved outbound attempts.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
