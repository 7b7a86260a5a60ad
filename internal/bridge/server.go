// Package bridge implements the gateway-facing WebSocket endpoint: upgrade
// authentication, rate limiting, per-connection read loops, and the dispatch
// of wire messages into call sessions.
package bridge

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/arens-io/voicelink/internal/call"
	"github.com/arens-io/voicelink/internal/config"
	"github.com/arens-io/voicelink/internal/observe"
	"github.com/arens-io/voicelink/internal/outbound"
	"github.com/arens-io/voicelink/internal/protocol"
	"github.com/arens-io/voicelink/internal/recorder"
)

// StatusUnauthorized is the close code sent when the shared secret does not
// match.
const StatusUnauthorized websocket.StatusCode = 4001

// secretHeader carries the shared secret on the upgrade request.
const secretHeader = "X-Bridge-Secret"

// PipelineStarter builds and binds the voice pipeline for a freshly started
// session. endCall tears the call down with the given session-end reason.
type PipelineStarter interface {
	Start(s *call.Session, endCall func(reason string)) error
}

// Server is the bridge's WebSocket endpoint. It owns the connection set, the
// session registry, and message dispatch.
type Server struct {
	cfg      *config.Config
	auth     *call.Authorizer
	registry *call.Registry
	pipeline PipelineStarter
	rec      *recorder.Recorder
	limiter  *rateLimiter
	log      *slog.Logger
	metrics  *observe.Metrics

	// resumeGrace is how long a dropped connection's sessions survive
	// awaiting a session_resume before teardown.
	resumeGrace time.Duration

	ctx context.Context

	// coordinator is set after construction; the outbound coordinator needs
	// the server as its connection picker.
	coordMu     sync.Mutex
	coordinator *outbound.Coordinator

	mu     sync.Mutex
	conns  map[string]*Connection
	connRR []string
	rrNext int
}

// NewServer builds the endpoint. ctx bounds every connection's lifetime.
func NewServer(ctx context.Context, cfg *config.Config, pipeline PipelineStarter, rec *recorder.Recorder, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		auth:     call.NewAuthorizer(cfg.Authorization, log),
		pipeline: pipeline,
		rec:      rec,
		limiter:  newRateLimiter(rateWindow, rateLimit),
		log:      log,
		metrics:  observe.DefaultMetrics(),

		resumeGrace: 2 * time.Second,

		ctx:   ctx,
		conns: make(map[string]*Connection),
	}
	s.registry = call.NewRegistry(cfg.MaxConcurrentCalls, cfg.MaxCallDuration(), func(sess *call.Session) {
		s.endCall(sess, protocol.ReasonTimeout, true)
	}, log)
	return s
}

// SetCoordinator attaches the outbound coordinator so call_status and
// outbound session_start messages can resolve pending calls.
func (s *Server) SetCoordinator(c *outbound.Coordinator) {
	s.coordMu.Lock()
	s.coordinator = c
	s.coordMu.Unlock()
}

func (s *Server) coord() *outbound.Coordinator {
	s.coordMu.Lock()
	defer s.coordMu.Unlock()
	return s.coordinator
}

// Registry exposes the session registry for wiring and introspection.
func (s *Server) Registry() *call.Registry { return s.registry }

// ConnectionCount reports the number of open gateway connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// PickConnection implements outbound.ConnPicker with round-robin over live
// connections.
func (s *Server) PickConnection() (call.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.connRR) == 0 {
		return nil, false
	}
	s.rrNext = s.rrNext % len(s.connRR)
	c := s.conns[s.connRR[s.rrNext]]
	s.rrNext++
	return c, true
}

// ServeHTTP handles the upgrade handshake: rate limit, shared secret,
// accept, then the connection's read loop until it dies.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := sourceHost(r.RemoteAddr)
	if !s.limiter.Allow(host) {
		s.log.Warn("upgrade rate limit exceeded", "source", host)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	secret := r.Header.Get(secretHeader)
	authorized := len(secret) == len(s.cfg.Bridge.Secret) &&
		subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.Bridge.Secret)) == 1

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("websocket accept failed", "source", host, "error", err)
		return
	}
	if !authorized {
		s.log.Warn("upgrade with bad secret", "source", host)
		_ = ws.Close(StatusUnauthorized, "unauthorized")
		return
	}
	ws.SetReadLimit(2 * protocol.MaxMessageBytes)

	conn := newConnection(s.ctx, uuid.NewString(), ws, s, s.log)
	s.addConn(conn)
	s.metrics.ActiveConnections.Add(s.ctx, 1)
	s.log.Info("gateway connected", "connection_id", conn.id, "source", host)

	conn.run()

	s.removeConn(conn)
	s.metrics.ActiveConnections.Add(s.ctx, -1)
	s.log.Info("gateway disconnected", "connection_id", conn.id)

	// The gateway may reconnect and resume within the grace window; only
	// sessions still bound to the dead connection afterwards are torn down.
	for _, sess := range s.registry.ByConnection(conn.id) {
		sess := sess
		time.AfterFunc(s.resumeGrace, func() {
			if sess.OwnsConnection(conn.id) {
				s.endCall(sess, protocol.ReasonError, false)
			}
		})
	}
	if c := s.coord(); c != nil {
		c.FailConnection(conn.id)
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) addConn(c *Connection) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.connRR = append(s.connRR, c.id)
	s.mu.Unlock()
}

func (s *Server) removeConn(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.id)
	for i, id := range s.connRR {
		if id == c.id {
			s.connRR = append(s.connRR[:i], s.connRR[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// dispatch routes one parsed wire message.
func (s *Server) dispatch(c *Connection, m *protocol.Message) {
	switch m.Type {
	case protocol.TypeAuthRequest:
		s.handleAuthRequest(c, m)
	case protocol.TypeSessionStart:
		s.handleSessionStart(c, m)
	case protocol.TypeCallStatus:
		if coord := s.coord(); coord != nil {
			coord.HandleCallStatus(m.CallID, m.Status, m.Error)
		}
	case protocol.TypeAudioIn:
		s.handleAudioIn(c, m)
	case protocol.TypeSessionEnd:
		s.handleSessionEnd(c, m)
	case protocol.TypeSessionResume:
		s.handleSessionResume(c, m)
	case protocol.TypePing:
		data, err := protocol.EncodeControl(protocol.TypePong, m.CallID)
		if err == nil {
			_ = c.Send(data)
		}
	default:
		c.log.Debug("ignoring unrecognized message type", "type", m.Type)
	}
}

func (s *Server) handleAuthRequest(c *Connection, m *protocol.Message) {
	d := s.auth.Authorize(c.ctx, m.CallID, m.Metadata)
	data, err := protocol.EncodeAuthResponse(
		m.CallID, m.CorrelationID, d.Authorized, d.Reason, d.Strategy,
		time.Now().UnixMilli(),
	)
	if err != nil {
		c.log.Error("encode auth_response failed", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		c.log.Warn("auth_response send failed", "call_id", m.CallID, "error", err)
	}
}

func (s *Server) handleSessionStart(c *Connection, m *protocol.Message) {
	direction := m.Direction
	if direction == "" {
		direction = protocol.DirectionInbound
	}
	if direction == protocol.DirectionInbound && !s.cfg.Inbound.Enabled {
		c.log.Warn("inbound call rejected, inbound disabled", "call_id", m.CallID)
		s.hangupUnknown(c, m.CallID)
		return
	}
	ctx, span := observe.StartSpan(c.ctx, "bridge.session_start")
	defer span.End()

	// A pending outbound call resolves only once the session is fully live;
	// a setup failure must surface to the initiator as an error, not as an
	// answered call followed by a hangup.
	failOutbound := func(detail string) {
		if direction != protocol.DirectionOutbound {
			return
		}
		if coord := s.coord(); coord != nil {
			coord.HandleCallStatus(m.CallID, protocol.StatusFailed, detail)
		}
	}

	sess := call.NewSession(s.ctx, m.CallID, direction, m.Metadata, c, s.log)
	if err := s.registry.Add(sess); err != nil {
		c.log.Warn("session rejected", "call_id", m.CallID, "error", err)
		sess.Close()
		s.hangupUnknown(c, m.CallID)
		failOutbound(err.Error())
		return
	}
	sess.MarkAnswered()

	endCall := func(reason string) { s.endCall(sess, reason, true) }
	if err := s.pipeline.Start(sess, endCall); err != nil {
		c.log.Error("voice pipeline failed to start", "call_id", m.CallID, "error", err)
		s.endCall(sess, protocol.ReasonError, true)
		failOutbound(err.Error())
		return
	}

	if direction == protocol.DirectionOutbound {
		if coord := s.coord(); coord != nil {
			coord.ResolveSessionStart(m.CallID)
		}
	}

	if s.rec != nil && m.Metadata != nil {
		s.rec.CallStart(ctx, m.CallID, m.Metadata.UserID, m.Metadata.DisplayName)
	}
	observe.Logger(ctx).Info("call session started", "call_id", m.CallID, "direction", direction)
}

func (s *Server) handleAudioIn(c *Connection, m *protocol.Message) {
	sess, ok := s.registry.Get(m.CallID)
	if !ok {
		s.metrics.RecordFrameDrop(c.ctx, "unknown-call")
		return
	}
	pcm, err := m.DecodeAudio()
	if err != nil {
		s.metrics.RecordFrameDrop(c.ctx, "bad-base64")
		return
	}
	sess.HandleAudioIn(c.id, m.Seq, pcm)
}

func (s *Server) handleSessionEnd(c *Connection, m *protocol.Message) {
	sess, ok := s.registry.Get(m.CallID)
	if !ok {
		return
	}
	reason := m.Reason
	if reason == "" {
		reason = protocol.ReasonHangupUser
	}
	c.log.Info("gateway ended session", "call_id", m.CallID, "reason", reason)
	s.endCall(sess, reason, false)
}

func (s *Server) handleSessionResume(c *Connection, m *protocol.Message) {
	sess, ok := s.registry.Get(m.CallID)
	if !ok {
		c.log.Warn("session_resume for unknown call ignored", "call_id", m.CallID)
		return
	}
	sess.Rebind(c, m.LastReceivedSeq)
}

// endCall removes the session from the registry and tears it down. When
// sendHangup is set the gateway is told to terminate the media leg first.
func (s *Server) endCall(sess *call.Session, reason string, sendHangup bool) {
	removed, ok := s.registry.Remove(sess.CallID)
	if !ok {
		return
	}
	if sendHangup {
		if err := removed.SendHangup(); err != nil {
			s.log.Debug("hangup send failed", "call_id", sess.CallID, "error", err)
		}
	}
	removed.Close()
	if s.rec != nil && sess.Metadata != nil {
		s.rec.CallEnd(s.ctx, sess.CallID, sess.Metadata.UserID, reason)
	}
	s.log.Info("call session ended", "call_id", sess.CallID, "reason", reason)
}

// hangupUnknown sends a hangup for a call that never produced a session.
func (s *Server) hangupUnknown(c *Connection, callID string) {
	data, err := protocol.EncodeControl(protocol.TypeHangup, callID)
	if err == nil {
		_ = c.Send(data)
	}
}

// Shutdown hangs up every live call and closes every connection.
func (s *Server) Shutdown() {
	for _, sess := range s.registry.All() {
		s.endCall(sess, protocol.ReasonHangupBot, true)
	}
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "bridge shutting down")
		c.cancel()
	}
}

// sourceHost strips the port from a remote address for rate-limit keying.
func sourceHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
