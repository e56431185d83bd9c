// Package server coordinates session activation, room membership, message
// fan-out, and connection cleanup for the GoChat WebSocket system via the Hub
// type.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presencechat/internal/config"
	"github.com/Tyrowin/presencechat/internal/metrics"
	"github.com/Tyrowin/presencechat/internal/observability"
	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/rooms"
	"github.com/Tyrowin/presencechat/internal/store"
)

// defaultMessageRoom is used for chat messages that name no room.
const defaultMessageRoom = "general"

// closeSessionReplaced is the close code sent to a session evicted by a newer
// login of the same user.
const closeSessionReplaced = 4001

// Persister accepts chat messages for asynchronous storage.
type Persister interface {
	Enqueue(msg store.ChatMessage) error
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records hub activity on m.
func WithMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithPersister stores every user chat message through p.
func WithPersister(p Persister) HubOption {
	return func(h *Hub) { h.persister = p }
}

// Hub owns the presence registry, the room directory and the set of active
// sessions. All methods are safe for concurrent use.
type Hub struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	persister Persister

	registry *presence.Registry
	rooms    *rooms.Directory[*Client]

	sessions map[*Client]struct{}
	// byUser lists a user's live sessions, oldest first.
	byUser map[string][]*Client
	mutex  sync.RWMutex
	// rosterMu pairs each registry mutation with its roster broadcast so
	// snapshots reach clients in mutation order. Taken before mutex.
	rosterMu sync.Mutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub ready to accept sessions.
func NewHub(cfg config.Config, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg.Sanitize(),
		logger:   observability.Discard(),
		registry: presence.NewRegistry(),
		rooms:    rooms.NewDirectory[*Client](),
		sessions: make(map[*Client]struct{}),
		byUser:   make(map[string][]*Client),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() config.Config {
	return h.cfg
}

// Activate moves an authenticated session to Active: it registers presence,
// joins the default room and announces the user, then starts the connection
// pumps. Under the evict policy older sessions of the same user are closed.
func (h *Hub) Activate(c *Client) error {
	if !c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive)) {
		if c.State() == StateClosed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: state %s", ErrSessionNotActive, c.State())
	}

	userID := c.identity.ID
	rec := c.identity.Presence(c.connID)

	// The roster and user_joined go out before this session can be
	// deactivated, so its user_left always follows them.
	h.rosterMu.Lock()
	evicted, snapshot, err := h.attach(c, rec)
	if err != nil {
		h.rosterMu.Unlock()
		c.state.Store(int32(StateClosed))
		return err
	}
	_, overflowed := h.fanOut(GlobalScope, rosterEvent(snapshot))
	_, more := h.fanOut(RoomScope(h.cfg.DefaultRoom), Event{Type: EventUserJoined, Data: UserJoinedPayload{User: rec}})
	h.rosterMu.Unlock()
	h.dropOverflowed(append(overflowed, more...))

	h.logger.Info("session activated", "user_id", userID, "conn_id", c.connID, "remote_addr", c.addr)
	h.observe()

	if c.pumping.Load() {
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	for _, old := range evicted {
		h.logger.Info("evicting replaced session", "user_id", userID, "conn_id", old.connID)
		old.closeWith(closeSessionReplaced, "session replaced")
	}
	return nil
}

// attach records c as an active session of its user and registers rec. The
// pump goroutines are accounted for here so Shutdown never waits before they
// are added.
func (h *Hub) attach(c *Client, rec presence.Record) ([]*Client, []presence.Record, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.ctx.Err() != nil {
		return nil, nil, ErrHubClosed
	}
	userID := c.identity.ID
	var evicted []*Client
	if h.cfg.DuplicateLogin == config.DuplicateLoginEvict {
		evicted = h.byUser[userID]
		h.byUser[userID] = nil
	}
	h.byUser[userID] = append(h.byUser[userID], c)
	h.sessions[c] = struct{}{}
	h.rooms.Join(h.cfg.DefaultRoom, c)
	if c.conn != nil {
		c.pumping.Store(true)
		h.wg.Add(2)
	}
	return evicted, h.registry.Register(rec), nil
}

// Deactivate removes a session from every room and from the registry, then
// broadcasts the roster and a user_left notice per affected room. When other
// sessions of the same user remain, the newest takes over the live record.
// Repeated calls are no-ops.
func (h *Hub) Deactivate(c *Client) {
	userID := c.identity.ID

	h.rosterMu.Lock()
	h.mutex.Lock()
	if _, ok := h.sessions[c]; !ok {
		h.mutex.Unlock()
		h.rosterMu.Unlock()
		return
	}
	delete(h.sessions, c)
	remaining := h.removeUserSessionLocked(c)
	affected := h.rooms.LeaveAll(c)

	var (
		left     presence.Record
		snapshot []presence.Record
		owned    bool
	)
	if len(remaining) > 0 {
		successor := remaining[len(remaining)-1]
		left, snapshot, owned = h.registry.Handoff(userID, c.connID, successor.connID)
	} else {
		left, snapshot, owned = h.registry.UnregisterConn(userID, c.connID)
	}
	if !owned {
		if rec, ok := h.registry.Lookup(userID); ok {
			left = rec
		} else {
			left = c.identity.Presence(c.connID)
		}
	}
	h.mutex.Unlock()

	_, overflowed := h.fanOut(GlobalScope, rosterEvent(snapshot))
	for _, room := range affected {
		if h.userInRoom(room, userID) {
			continue
		}
		_, more := h.fanOut(RoomScope(room), Event{Type: EventUserLeft, Data: UserLeftPayload{User: left, Room: room}})
		overflowed = append(overflowed, more...)
	}
	h.rosterMu.Unlock()

	h.logger.Info("session closed", "user_id", userID, "conn_id", c.connID, "rooms", len(affected))
	h.observe()
	h.dropOverflowed(overflowed)
}

func (h *Hub) removeUserSessionLocked(c *Client) []*Client {
	userID := c.identity.ID
	list := h.byUser[userID]
	for i, s := range list {
		if s == c {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.byUser, userID)
		return nil
	}
	h.byUser[userID] = list
	return list
}

func (h *Hub) userInRoom(room, userID string) bool {
	for _, m := range h.rooms.Members(room) {
		if m.identity.ID == userID {
			return true
		}
	}
	return false
}

// JoinRoom adds an active session to room and announces it to the room.
// Joining a room the session already belongs to is a no-op.
func (h *Hub) JoinRoom(c *Client, room string) error {
	room, err := normalizeRoom(room)
	if err != nil {
		return err
	}

	h.mutex.RLock()
	if _, ok := h.sessions[c]; !ok {
		h.mutex.RUnlock()
		return ErrSessionClosed
	}
	joined := h.rooms.Join(room, c)
	h.mutex.RUnlock()

	if !joined {
		return nil
	}
	h.logger.Info("joined room", "user_id", c.identity.ID, "conn_id", c.connID, "room", room)
	h.observe()
	h.Dispatch(RoomScope(room), chatEvent(h.systemMessage(room, fmt.Sprintf("%s has joined the %s room.", c.identity.DisplayName, room))))
	return nil
}

// LeaveRoom removes an active session from room and tells the remaining
// members. Leaving a room the session is not in is a no-op.
func (h *Hub) LeaveRoom(c *Client, room string) error {
	room, err := normalizeRoom(room)
	if err != nil {
		return err
	}

	h.mutex.RLock()
	if _, ok := h.sessions[c]; !ok {
		h.mutex.RUnlock()
		return ErrSessionClosed
	}
	left := h.rooms.Leave(room, c)
	h.mutex.RUnlock()

	if !left {
		return nil
	}
	h.logger.Info("left room", "user_id", c.identity.ID, "conn_id", c.connID, "room", room)
	h.observe()
	h.Dispatch(RoomScope(room), chatEvent(h.systemMessage(room, fmt.Sprintf("%s has left the %s room.", c.identity.DisplayName, room))))
	return nil
}

// SendMessage queues req for persistence and delivers it to the room. An
// empty body is dropped with ErrEmptyMessage. A persistence failure is logged
// and never prevents delivery.
func (h *Hub) SendMessage(c *Client, req ChatRequest) error {
	if !h.isActive(c) {
		return ErrSessionClosed
	}
	if strings.TrimSpace(req.Message) == "" {
		h.logger.Warn("empty message dropped", "user_id", c.identity.ID, "conn_id", c.connID)
		return ErrEmptyMessage
	}
	room := defaultMessageRoom
	if strings.TrimSpace(req.Room) != "" {
		var err error
		if room, err = normalizeRoom(req.Room); err != nil {
			return err
		}
	}

	msg := store.ChatMessage{
		Sender:       c.identity.DisplayName,
		SenderAvatar: h.currentAvatar(c),
		Body:         req.Message,
		Room:         room,
		Private:      req.Private,
		CreatedAt:    time.Now().UTC(),
	}

	if h.persister != nil {
		if err := h.persister.Enqueue(msg); err != nil {
			h.logger.Error("failed to queue chat message for storage", "user_id", c.identity.ID, "room", room, "error", err)
			if h.metrics != nil {
				h.metrics.PersistFailures.Inc()
			}
		}
	}

	delivered := h.Dispatch(RoomScope(room), chatEvent(msg))
	if h.metrics != nil {
		h.metrics.MessagesTotal.WithLabelValues(metrics.KindChat).Inc()
	}
	h.logger.Debug("chat message", "user_id", c.identity.ID, "room", room, "recipients", delivered)
	return nil
}

// UpdatePresence changes a field of a connected user's roster record and
// re-broadcasts the roster. It reports false when the user is not online.
func (h *Hub) UpdatePresence(userID, field string, value any) (bool, error) {
	h.rosterMu.Lock()
	snapshot, ok, err := h.registry.UpdateField(userID, field, value)
	if err != nil || !ok {
		h.rosterMu.Unlock()
		return ok, err
	}
	_, overflowed := h.fanOut(GlobalScope, rosterEvent(snapshot))
	h.rosterMu.Unlock()
	h.dropOverflowed(overflowed)
	return true, nil
}

// Online returns the current roster.
func (h *Hub) Online() []presence.Record {
	return h.registry.Snapshot()
}

// Rooms lists the non-empty rooms with their member counts.
func (h *Hub) Rooms() []rooms.RoomInfo {
	return h.rooms.Rooms()
}

// RoomMembers returns the sessions currently in room.
func (h *Hub) RoomMembers(room string) []*Client {
	return h.rooms.Members(room)
}

// SessionCount returns the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

func (h *Hub) isActive(c *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.sessions[c]
	return ok
}

func (h *Hub) activeSessions() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*Client, 0, len(h.sessions))
	for c := range h.sessions {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) currentAvatar(c *Client) string {
	if rec, ok := h.registry.Lookup(c.identity.ID); ok && rec.AvatarURL != "" {
		return rec.AvatarURL
	}
	return c.identity.AvatarURL
}

func (h *Hub) systemMessage(room, text string) store.ChatMessage {
	if h.metrics != nil {
		h.metrics.MessagesTotal.WithLabelValues(metrics.KindSystem).Inc()
	}
	return store.ChatMessage{
		Sender:    SystemSender,
		Body:      text,
		Room:      room,
		System:    true,
		CreatedAt: time.Now().UTC(),
	}
}

func (h *Hub) observe() {
	if h.metrics == nil {
		return
	}
	h.metrics.OnlineUsers.Set(float64(h.registry.Len()))
	h.metrics.ActiveConnections.Set(float64(h.SessionCount()))
	h.metrics.RoomCount.Set(float64(h.rooms.Len()))
}

// Shutdown closes every session and waits for the connection goroutines to
// finish or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()

	clients := h.activeSessions()
	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutdown")
	}
	h.logger.Info("closed client connections", "count", len(clients))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
