package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/liverelay/internal/admission"
	"github.com/xpanvictor/liverelay/internal/metrics"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

var ErrConnectionClosing = errors.New("connection is closing")

const (
	writeWait = 10 * time.Second
	// how long the read loop keeps draining after we sent a close frame
	closeGrace = 2 * time.Second
	// close frame reasons are capped at 123 bytes by the protocol
	maxCloseReason = 123
)

// Connection is one accepted browser socket. Writes are serialized by
// writeMu; reads happen only on the handler's read loop.
type Connection struct {
	ID         uuid.UUID
	RemoteAddr string
	CreatedAt  time.Time

	ws      *websocket.Conn
	logger  *Logger.Logger
	metrics *metrics.Metrics
	window  *admission.MessageWindow

	writeMu   sync.Mutex
	closeSent bool

	alive     atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func NewConnection(ws *websocket.Conn, remoteAddr string, window *admission.MessageWindow, logger *Logger.Logger, m *metrics.Metrics) *Connection {
	id := uuid.New()
	if logger == nil {
		logger = Logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		CreatedAt:  time.Now(),
		ws:         ws,
		logger:     logger.With("conn", id.String(), "remote", remoteAddr),
		metrics:    m,
		window:     window,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

// Send writes one JSON frame. It fails once a close frame has been sent.
func (c *Connection) Send(msgType MessageType, payload any) error {
	data, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closeSent {
		return ErrConnectionClosing
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", msgType, err)
	}
	c.metrics.Relayed("outbound", string(msgType))
	return nil
}

// SendError sends an error frame, logging rather than returning a failure.
func (c *Connection) SendError(message string) {
	if err := c.Send(MessageTypeError, ErrorPayload{Message: message}); err != nil {
		c.logger.Debugf("Failed to send error frame: %v", err)
	}
}

// CloseWith sends a close frame once and gives the peer closeGrace to answer
// before the read loop is released.
func (c *Connection) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		reason = truncateReason(reason)

		c.writeMu.Lock()
		c.closeSent = true
		err := c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.writeMu.Unlock()

		c.metrics.Closed(strconv.Itoa(code))
		c.logger.Debugf("Closing connection with code %d (%s)", code, reason)
		if err != nil {
			c.logger.Debugf("Failed to write close frame: %v", err)
			_ = c.ws.Close()
		} else {
			_ = c.ws.SetReadDeadline(time.Now().Add(closeGrace))
		}
		c.cancel()
	})
}

// truncateReason cuts reason to the close frame limit without splitting a
// rune. Invalid UTF-8 in the frame would fail the peer's close handshake.
func truncateReason(reason string) string {
	if !utf8.ValidString(reason) {
		reason = strings.ToValidUTF8(reason, "")
	}
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// Terminate drops the socket without a close handshake.
func (c *Connection) Terminate() {
	c.closing.Store(true)
	c.writeMu.Lock()
	c.closeSent = true
	c.writeMu.Unlock()
	_ = c.ws.Close()
	c.cancel()
}

// Closing reports whether a close has been initiated from either side.
func (c *Connection) Closing() bool {
	return c.closing.Load()
}

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) Logger() *Logger.Logger {
	return c.logger
}
