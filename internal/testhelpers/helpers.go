// Package testhelpers provides common utilities and helper functions for testing the GoChat server.
//
// It contains reusable helpers for creating test servers, logging users in,
// dialing the WebSocket endpoint and reading JSON events, plus in-memory
// collaborators that stand in for the database.
package testhelpers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presencechat/internal/auth"
	"github.com/Tyrowin/presencechat/internal/store"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL converts an http:// test server URL into the ws:// endpoint URL.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// UserDirectory is an in-memory auth.UserLookup.
type UserDirectory struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*store.User
}

// NewUserDirectory returns an empty directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[int64]*store.User)}
}

// Add creates an online user with the default avatar.
func (d *UserDirectory) Add(name string) *store.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	u := &store.User{
		ID:     d.nextID,
		Name:   name,
		Email:  strings.ToLower(name) + "@example.com",
		Avatar: "default-profile.png",
		Status: "online",
		Level:  1,
	}
	d.users[u.ID] = u
	return u
}

// GetUser implements auth.UserLookup.
func (d *UserDirectory) GetUser(_ context.Context, id int64) (*store.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// SessionHeader returns request headers carrying a session cookie for user
// and the allowed test origin.
func SessionHeader(t *testing.T, sessions *auth.Sessions, user *store.User) http.Header {
	t.Helper()
	token, err := sessions.Issue(user)
	if err != nil {
		t.Fatalf("Failed to issue session: %v", err)
	}
	header := http.Header{}
	header.Set("Origin", TestOrigin)
	header.Set("Cookie", (&http.Cookie{Name: auth.CookieName, Value: token}).String())
	return header
}

// ConnectWebSocket dials url with the given headers. The handshake response is
// returned so callers can inspect refusals.
func ConnectWebSocket(url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	if header == nil {
		header = http.Header{}
		header.Set("Origin", TestOrigin)
	}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// WireEvent is an event as read off the socket.
type WireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e WireEvent) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", e.Type, e.Data, err)
	}
}

// SendEvent writes a {"type","data"} envelope.
func SendEvent(conn *websocket.Conn, eventType string, data any) error {
	return conn.WriteJSON(map[string]any{"type": eventType, "data": data})
}

// ReadEvent reads the next event, waiting at most timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (WireEvent, error) {
	var ev WireEvent
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ev, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event %q: %w", data, err)
	}
	return ev, nil
}

// WaitForEvent reads events until one of eventType satisfies match, skipping
// the rest. A nil match accepts the first event of the type.
func WaitForEvent(t *testing.T, conn *websocket.Conn, eventType string, timeout time.Duration, match func(WireEvent) bool) WireEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s event", eventType)
		}
		ev, err := ReadEvent(conn, remaining)
		if err != nil {
			t.Fatalf("Failed waiting for %s event: %v", eventType, err)
		}
		if ev.Type == eventType && (match == nil || match(ev)) {
			return ev
		}
	}
}

// ExpectNoEvent fails if an event of eventType arrives within wait.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, eventType string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		ev, err := ReadEvent(conn, remaining)
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected read error: %v", err)
		}
		if ev.Type == eventType {
			t.Fatalf("Unexpected %s event: %s", eventType, ev.Data)
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// MessageRecorder is an in-memory persister for chat messages. When Err is
// set every Enqueue fails with it.
type MessageRecorder struct {
	mu       sync.Mutex
	messages []store.ChatMessage
	Err      error
}

// Enqueue records msg or returns Err.
func (r *MessageRecorder) Enqueue(msg store.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *MessageRecorder) Messages() []store.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.ChatMessage(nil), r.messages...)
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s: %s", timeout, msg)
}
