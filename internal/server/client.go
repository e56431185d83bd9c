// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/presencechat/internal/auth"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	// closeWait bounds the close frame and any write still in flight at close.
	closeWait  = time.Second
)

// SessionState is the lifecycle stage of a Client.
type SessionState int32

// Session lifecycle: Connecting → Authenticated → Active → Closed.
const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one WebSocket session bound to an authenticated user.
type Client struct {
	conn     *websocket.Conn
	hub      *Hub
	addr     string
	connID   string
	identity auth.Identity
	logger   *slog.Logger

	state   atomic.Int32
	pumping atomic.Bool

	// mu guards send against concurrent close.
	mu        sync.Mutex
	send      chan []byte
	done      chan struct{}
	closed    bool
	closeCode int
	closeText string
	closeOnce sync.Once

	maxMessageSize int64
	limiter        *rate.Limiter
}

// NewClient creates a session in the Connecting state. conn may be nil for
// sessions that are driven directly through the hub.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	connID := uuid.NewString()
	perSecond := rate.Limit(float64(cfg.RateLimit.Burst) / cfg.RateLimit.RefillInterval.Seconds())

	return &Client{
		conn:           conn,
		hub:            hub,
		addr:           addr,
		connID:         connID,
		logger:         hub.logger.With("conn_id", connID, "remote_addr", addr),
		send:           make(chan []byte, cfg.SendQueueSize),
		done:           make(chan struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(perSecond, cfg.RateLimit.Burst),
	}
}

// Authenticate binds a verified identity to a Connecting session.
func (c *Client) Authenticate(id auth.Identity) error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		if c.State() == StateClosed {
			return ErrSessionClosed
		}
		return ErrSessionNotActive
	}
	c.identity = id
	c.logger = c.logger.With("user_id", id.ID)
	return nil
}

// State returns the current lifecycle stage.
func (c *Client) State() SessionState {
	return SessionState(c.state.Load())
}

// ConnID returns the unique connection id.
func (c *Client) ConnID() string {
	return c.connID
}

// Identity returns the user bound to the session.
func (c *Client) Identity() auth.Identity {
	return c.identity
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Close ends the session with a normal closure.
func (c *Client) Close() {
	c.closeWith(websocket.CloseNormalClosure, "")
}

// enqueue performs a non-blocking send into the outbound queue.
func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errQueueFull
	}
}

// closeWith moves the session to Closed. An active session is removed from
// the hub before its queue is closed. The write pump discards whatever is
// still queued and sends the close frame; a write already blocked on a slow
// peer is cut short. Only the first call has any effect.
func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		prev := SessionState(c.state.Swap(int32(StateClosed)))
		if prev == StateActive {
			c.hub.Deactivate(c)
		}

		c.mu.Lock()
		c.closed = true
		c.closeCode, c.closeText = code, text
		close(c.done)
		close(c.send)
		c.mu.Unlock()

		if c.conn == nil {
			return
		}
		if !c.pumping.Load() {
			c.closeConnection()
			return
		}
		if err := c.conn.UnderlyingConn().SetWriteDeadline(time.Now().Add(closeWait)); err != nil {
			c.logger.Debug("error shortening write deadline", "error", err)
		}
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.logger.Warn("message exceeded maximum size", "max_bytes", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.logger.Info("client disconnected", "reason", err.Error())
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.logger.Info("client connection closed", "reason", err.Error())
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.logger.Warn("unexpected websocket error", "error", err)
		return true
	}

	c.logger.Warn("websocket read error", "error", err)
	return true
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("rate limit exceeded; discarding message")
		if c.hub.metrics != nil {
			c.hub.metrics.RateLimited.Inc()
		}
		return false
	}
	return true
}

// processMessage decodes one inbound frame and routes it to the hub.
// It returns false when the frame was rejected.
func (c *Client) processMessage(raw []byte) bool {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("invalid message", "error", err)
		c.hub.sendTo(c, errorEvent(CodeInvalidMessage, "message must be a JSON event envelope"))
		return false
	}

	var err error
	switch env.Type {
	case EventJoinRoom, EventLeaveRoom:
		var req RoomRequest
		if err = decodeData(env.Data, &req); err != nil {
			break
		}
		if env.Type == EventJoinRoom {
			err = c.hub.JoinRoom(c, req.Room)
		} else {
			err = c.hub.LeaveRoom(c, req.Room)
		}
	case EventChatMessage:
		var req ChatRequest
		if err = decodeData(env.Data, &req); err != nil {
			break
		}
		err = c.hub.SendMessage(c, req)
	default:
		c.logger.Warn("unknown event type", "type", env.Type)
		c.hub.sendTo(c, errorEvent(CodeUnknownEvent, "unknown event type: "+env.Type))
		return false
	}

	return c.reportError(env.Type, err)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Join(errInvalidPayload, err)
	}
	return nil
}

var errInvalidPayload = errors.New("server: invalid event payload")

// reportError turns a hub error into an error event for the sender.
func (c *Client) reportError(eventType string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrEmptyMessage):
		// Dropped and already logged by the hub.
		return false
	case errors.Is(err, ErrSessionClosed):
		c.logger.Debug("event on closed session ignored", "type", eventType)
		return false
	case errors.Is(err, ErrInvalidRoom):
		c.hub.sendTo(c, errorEvent(CodeInvalidRoom, err.Error()))
	default:
		c.logger.Warn("invalid event payload", "type", eventType, "error", err)
		c.hub.sendTo(c, errorEvent(CodeInvalidMessage, "invalid "+eventType+" payload"))
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.closeWith(websocket.CloseNormalClosure, "")
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.done:
		return c.writeCloseMessage()
	default:
	}

	select {
	case <-c.done:
		return c.writeCloseMessage()
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the WebSocket connection, ignoring expected errors.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", "error", err)
		}
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if !ok || c.isClosing() {
		return c.writeCloseMessage()
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline", "error", err)
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) isClosing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeCloseMessage sends the close frame recorded by closeWith.
func (c *Client) writeCloseMessage() bool {
	c.mu.Lock()
	code, text := c.closeCode, c.closeText
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, text)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error writing close message", "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("error writing ping message", "error", err)
		return false
	}
	return true
}
