package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/liverelay/internal/admission"
	"github.com/xpanvictor/liverelay/internal/metrics"
	"github.com/xpanvictor/liverelay/internal/upstream"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

// Options bound every relay connection.
type Options struct {
	MaxPayloadBytes   int64
	HeartbeatInterval time.Duration
	StartTimeout      time.Duration
	Session           SessionOptions
}

// RelayHandler accepts browser sockets on the live path and bridges each to
// an upstream session.
type RelayHandler struct {
	logger    *Logger.Logger
	opts      Options
	admission *admission.Controller
	origins   *admission.OriginGuard
	dialer    upstream.Dialer
	manager   *ConnectionManager
	metrics   *metrics.Metrics
	upgrader  websocket.Upgrader
}

// NewRelayHandler creates a new relay handler
func NewRelayHandler(
	logger *Logger.Logger,
	opts Options,
	controller *admission.Controller,
	origins *admission.OriginGuard,
	dialer upstream.Dialer,
	manager *ConnectionManager,
	m *metrics.Metrics,
) *RelayHandler {
	if logger == nil {
		logger = Logger.NewNop()
	}
	return &RelayHandler{
		logger:    logger,
		opts:      opts,
		admission: controller,
		origins:   origins,
		dialer:    dialer,
		manager:   manager,
		metrics:   m,
		upgrader: websocket.Upgrader{
			// origin is checked by the OriginGuard before Upgrade runs
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *RelayHandler) Manager() *ConnectionManager {
	return h.manager
}

// ServeLive runs admission and origin checks, then upgrades and serves the
// connection until it closes.
func (h *RelayHandler) ServeLive(c *gin.Context) {
	addr := c.ClientIP()

	decision := h.admission.AdmitConnection(addr)
	if !decision.Allowed {
		h.logger.Warnf("Rejected connection from %s: %s", addr, decision.Reason())
		h.metrics.AdmissionRejected(rejectionLabel(decision.Err))
		RejectUpgrade(c.Writer, decision.Status)
		return
	}
	permit := decision.Permit

	if !h.origins.Allow(c.Request) {
		permit.Release()
		h.metrics.AdmissionRejected("origin")
		RejectUpgrade(c.Writer, http.StatusForbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		permit.Release()
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	h.serve(ws, addr, permit)
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, admission.ErrCapacity):
		return "capacity"
	case errors.Is(err, admission.ErrPerAddress):
		return "per_address"
	case errors.Is(err, admission.ErrRateLimited):
		return "rate_limited"
	}
	return "other"
}

// RejectUpgrade answers an upgrade request with a bare status line on the
// hijacked socket and closes it. No handshake is attempted.
func RejectUpgrade(w http.ResponseWriter, status int) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(status), status)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		return
	}
	defer conn.Close()
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nConnection: close\r\n\r\n", status, http.StatusText(status))
	_ = buf.Flush()
}

func (h *RelayHandler) serve(ws *websocket.Conn, addr string, permit *admission.Permit) {
	ws.SetReadLimit(h.opts.MaxPayloadBytes)

	conn := NewConnection(ws, addr, h.admission.NewWindow(), h.logger, h.metrics)
	session := NewSession(conn, h.dialer, h.opts.Session, conn.Logger(), h.metrics)

	h.manager.Register(conn)
	h.metrics.ConnectionOpened()
	conn.Logger().Infof("Connection opened")

	startTimer := conn.watchStart(h.opts.StartTimeout, func() bool {
		return session.State() != StateIdle
	})
	go conn.runHeartbeat(h.opts.HeartbeatInterval)

	defer func() {
		startTimer.Stop()
		conn.Terminate()
		if err := session.Teardown(); err != nil {
			conn.Logger().Debugf("Upstream teardown: %v", err)
		}
		h.manager.Unregister(conn.ID)
		permit.Release()
		h.metrics.ConnectionClosed()
		conn.Logger().Infof("Connection closed after %s", time.Since(conn.CreatedAt).Round(time.Second))
	}()

	h.readLoop(conn, session)
}

func (h *RelayHandler) readLoop(conn *Connection, session *Session) {
	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseServiceRestart, websocket.ClosePolicyViolation, websocket.CloseInternalServerErr) && !conn.Closing() {
				conn.Logger().Debugf("WebSocket read error: %v", err)
			}
			return
		}
		// after a close is initiated the loop only drains until the peer answers
		if conn.Closing() {
			continue
		}
		if !conn.window.Admit() {
			conn.Logger().Warnf("Message rate exceeded (%d in window)", conn.window.Count())
			conn.CloseWith(ClosePolicy, "Rate limit exceeded")
			continue
		}
		if msgType != websocket.TextMessage {
			conn.SendError("Only JSON text frames are supported")
			continue
		}
		h.dispatch(conn, session, data)
	}
}

func (h *RelayHandler) dispatch(conn *Connection, session *Session, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.SendError("Invalid JSON message")
		return
	}
	switch env.Type {
	case MessageTypeStart, MessageTypeAudio, MessageTypeText, MessageTypeStop:
		h.metrics.Relayed("inbound", string(env.Type))
	}

	switch env.Type {
	case MessageTypeStart:
		session.Start(decodeStart(env.Payload))
	case MessageTypeAudio:
		if p, ok := decodeAudio(env.Payload); ok {
			session.RouteAudio(p)
		}
	case MessageTypeText:
		if text, ok := decodeText(env.Payload); ok {
			session.RouteText(text)
		}
	case MessageTypeStop:
		session.Stop()
	default:
		conn.SendError(fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}
