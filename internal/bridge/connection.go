package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/arens-io/voicelink/internal/protocol"
)

// Connection timing.
const (
	// sendTimeout bounds one outbound write to the gateway.
	sendTimeout = 10 * time.Second

	// pingInterval is how often the server pings; a pong must arrive within
	// one further interval or the connection is terminated.
	pingInterval = 30 * time.Second

	// maxOversizeStrikes is how many oversize messages a connection may send
	// before it is closed with 1009.
	maxOversizeStrikes = 3
)

// Connection is one live gateway WebSocket. It implements call.Conn so
// sessions can send on it directly.
type Connection struct {
	id  string
	ws  *websocket.Conn
	srv *Server
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	oversizeStrikes int
}

func newConnection(ctx context.Context, id string, ws *websocket.Conn, srv *Server, log *slog.Logger) *Connection {
	cctx, cancel := context.WithCancel(ctx)
	return &Connection{
		id:     id,
		ws:     ws,
		srv:    srv,
		log:    log.With("connection_id", id),
		ctx:    cctx,
		cancel: cancel,
	}
}

// ID implements call.Conn.
func (c *Connection) ID() string { return c.id }

// Send writes one wire message as a text frame, bounded by the per-send
// timeout. Implements call.Conn.
func (c *Connection) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, sendTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: send on connection %s: %w", c.id, err)
	}
	return nil
}

// run reads messages until the connection dies, with a ping loop keeping the
// gateway honest. Blocks until teardown.
func (c *Connection) run() {
	go c.pingLoop()
	c.readLoop()
	c.cancel()
}

// pingLoop sends a protocol-level ping every interval. coder/websocket's
// Ping blocks until the matching pong arrives, so the one-interval grace is
// the Ping deadline itself.
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, pingInterval)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Warn("gateway missed pong, terminating connection", "error", err)
				_ = c.ws.Close(websocket.StatusGoingAway, "ping timeout")
				c.cancel()
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				c.log.Debug("connection read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.log.Debug("ignoring non-text frame")
			continue
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			if errors.Is(err, protocol.ErrOversize) && c.strikeOversize() {
				_ = c.ws.Close(websocket.StatusMessageTooBig, "repeated oversize messages")
				return
			}
			c.log.Debug("dropping invalid message", "error", err)
			continue
		}
		c.srv.dispatch(c, msg)
	}
}

// strikeOversize counts one oversize violation and reports whether the
// connection has exhausted its allowance.
func (c *Connection) strikeOversize() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.oversizeStrikes++
	return c.oversizeStrikes >= maxOversizeStrikes
}
