// Package server defines the WebSocket event envelope and payload types shared
// by the hub, sessions and HTTP handlers.
package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/store"
)

// Event types exchanged over the WebSocket connection.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventChatMessage = "chat_message"
	EventUpdateUsers = "update_users"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventError       = "error"
)

// Error codes carried by error events.
const (
	CodeInvalidMessage = "invalid_message"
	CodeInvalidRoom    = "invalid_room"
	CodeUnknownEvent   = "unknown_event"
)

// SystemSender is the sender name of server-generated chat messages.
const SystemSender = "System"

// maxRoomNameLength bounds room names accepted from clients.
const maxRoomNameLength = 64

var (
	// ErrSessionClosed is returned for operations on a session that already left the Active state.
	ErrSessionClosed = errors.New("server: session closed")
	// ErrSessionNotActive is returned when a room or message operation arrives before activation.
	ErrSessionNotActive = errors.New("server: session not active")
	// ErrInvalidRoom is returned for empty or oversized room names.
	ErrInvalidRoom = errors.New("server: invalid room name")
	// ErrEmptyMessage is returned when a chat message has no body.
	ErrEmptyMessage = errors.New("server: empty message")
	// ErrHubClosed is returned when a session tries to activate during shutdown.
	ErrHubClosed = errors.New("server: hub is shutting down")

	errQueueFull = errors.New("server: send queue full")
)

// Envelope is the wire shape of every inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RoomRequest is the payload of join_room and leave_room.
type RoomRequest struct {
	Room string `json:"room"`
}

// ChatRequest is the payload of an inbound chat_message.
type ChatRequest struct {
	Room    string `json:"room"`
	Message string `json:"message"`
	Private bool   `json:"private"`
}

// RosterPayload is the payload of update_users.
type RosterPayload struct {
	Online []presence.Record `json:"online"`
}

// UserJoinedPayload is the payload of user_joined.
type UserJoinedPayload struct {
	User presence.Record `json:"user"`
}

// UserLeftPayload is the payload of user_left.
type UserLeftPayload struct {
	User presence.Record `json:"user"`
	Room string          `json:"room"`
}

// ErrorPayload is the payload of error events sent to a single session.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func rosterEvent(online []presence.Record) Event {
	if online == nil {
		online = []presence.Record{}
	}
	return Event{Type: EventUpdateUsers, Data: RosterPayload{Online: online}}
}

func chatEvent(msg store.ChatMessage) Event {
	return Event{Type: EventChatMessage, Data: msg}
}

func errorEvent(code, message string) Event {
	return Event{Type: EventError, Data: ErrorPayload{Code: code, Message: message}}
}

// normalizeRoom trims the name and rejects empty or oversized names.
func normalizeRoom(room string) (string, error) {
	room = strings.TrimSpace(room)
	if room == "" || len(room) > maxRoomNameLength {
		return "", ErrInvalidRoom
	}
	return room, nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
