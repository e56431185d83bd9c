package server

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// Scope selects the recipients of a dispatched event.
type Scope struct {
	room   string
	global bool
}

// GlobalScope addresses every active session.
var GlobalScope = Scope{global: true}

// RoomScope addresses the current members of a room.
func RoomScope(room string) Scope {
	return Scope{room: room}
}

// IsGlobal reports whether the scope addresses every active session.
func (s Scope) IsGlobal() bool {
	return s.global
}

// Room returns the room name of a room scope.
func (s Scope) Room() string {
	return s.room
}

func (s Scope) String() string {
	if s.global {
		return "global"
	}
	return "room:" + s.room
}

// Dispatch encodes ev once and queues it for every recipient in scope.
// Recipients whose queue is full are disconnected after the fan-out so one
// slow reader never delays the others. It returns the number of sessions the
// event was queued for.
func (h *Hub) Dispatch(scope Scope, ev Event) int {
	delivered, overflowed := h.fanOut(scope, ev)
	h.dropOverflowed(overflowed)
	return delivered
}

func (h *Hub) fanOut(scope Scope, ev Event) (int, []*Client) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return 0, nil
	}

	delivered := 0
	var overflowed []*Client
	for _, c := range h.recipients(scope) {
		switch err := c.enqueue(payload); {
		case err == nil:
			delivered++
		case errors.Is(err, errQueueFull):
			overflowed = append(overflowed, c)
		}
	}

	h.logger.Debug("dispatched event", "type", ev.Type, "scope", scope.String(), "recipients", delivered)
	return delivered, overflowed
}

// dropOverflowed disconnects sessions that could not keep up.
func (h *Hub) dropOverflowed(clients []*Client) {
	for _, c := range clients {
		h.logger.Warn("send queue full; disconnecting", "conn_id", c.connID, "user_id", c.identity.ID)
		if h.metrics != nil {
			h.metrics.DroppedDeliveries.Inc()
		}
		c.closeWith(websocket.CloseTryAgainLater, "send queue overflow")
	}
}

// sendTo queues an event for a single session.
func (h *Hub) sendTo(c *Client, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	if err := c.enqueue(payload); errors.Is(err, errQueueFull) {
		h.dropOverflowed([]*Client{c})
	}
}

func (h *Hub) recipients(scope Scope) []*Client {
	if scope.IsGlobal() {
		return h.activeSessions()
	}
	return h.rooms.Members(scope.Room())
}
