// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presencechat/internal/auth"
	"github.com/Tyrowin/presencechat/internal/metrics"
	"github.com/Tyrowin/presencechat/internal/observability"
	"github.com/Tyrowin/presencechat/internal/store"
)

const (
	staticPrefix  = "/static"
	uploadsPrefix = "/uploads"
	healthTimeout = 2 * time.Second
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators shared by the HTTP handlers. Health is optional.
type Deps struct {
	Hub      *Hub
	Identity auth.Provider
	Sessions *auth.Sessions
	Users    store.UserStore
	Messages store.MessageStore
	Content  store.ContentStore
	Metrics  *metrics.Metrics
	Health   Pinger
	Logger   *slog.Logger
}

// Handlers serves the WebSocket endpoint and the JSON API.
type Handlers struct {
	Deps
	origins   *OriginPolicy
	upgrader  websocket.Upgrader
	uploadDir string
	staticDir string
	// uploadURL is the public path prefix of uploadDir; mountUploads is set
	// when uploadDir is not reachable through the static file server.
	uploadURL    string
	mountUploads bool
}

// NewHandlers builds the handlers from deps, taking origin and directory
// settings from the hub configuration.
func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}
	cfg := deps.Hub.Config()
	origins := NewOriginPolicy(cfg.AllowedOrigins, deps.Logger)
	uploadURL, mountUploads := uploadLocation(cfg.StaticDir, cfg.UploadDir)
	return &Handlers{
		Deps:    deps,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		uploadDir:    cfg.UploadDir,
		staticDir:    cfg.StaticDir,
		uploadURL:    uploadURL,
		mountUploads: mountUploads,
	}
}

// uploadLocation returns the public URL prefix for files in uploadDir and
// whether uploadDir needs its own mount because it lies outside staticDir.
func uploadLocation(staticDir, uploadDir string) (string, bool) {
	if staticDir != "" {
		if rel, ok := relativeDir(staticDir, uploadDir); ok {
			return path.Join(staticPrefix, filepath.ToSlash(rel)), false
		}
	}
	return uploadsPrefix, true
}

func relativeDir(base, target string) (string, bool) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// WebSocketHandler resolves the caller's identity, upgrades the connection
// and activates a session. Requests without a valid session are refused with
// 401 before any upgrade.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, err := h.Identity.ResolveIdentity(r)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			h.reject("unauthenticated")
			h.Logger.Warn("websocket connect rejected: not logged in", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h.reject("error")
		h.Logger.Error("failed to resolve identity", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if !h.origins.Allowed(r) {
			h.reject("origin")
		} else {
			h.reject("error")
		}
		h.Logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h.Hub, r.RemoteAddr)
	if err := client.Authenticate(identity); err != nil {
		h.Logger.Error("failed to bind identity", "user_id", identity.ID, "error", err)
		client.Close()
		return
	}
	if err := h.Hub.Activate(client); err != nil {
		h.Logger.Warn("session activation refused", "user_id", identity.ID, "error", err)
		client.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Handlers) reject(reason string) {
	if h.Metrics != nil {
		h.Metrics.RejectedConnections.WithLabelValues(reason).Inc()
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status. It answers 503 when the database does not respond.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			h.Logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "GoChat server is unhealthy: database unavailable")
			return
		}
	}
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// TestPageHandler serves an HTML page for exercising rooms and chat over the
// WebSocket endpoint. The browser must already hold a session cookie.
func (h *Handlers) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.Logger.Warn("error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages, #online {
            border: 1px solid #ccc;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #messages { height: 300px; }
        #online { height: 80px; }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="roomInput" placeholder="Room" value="general">
        <button onclick="joinRoom()">Join</button>
        <button onclick="leaveRoom()">Leave</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="online"></div>
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const onlineDiv = document.getElementById('online');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(type, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: type, data: data}));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { addLine('Connected to GoChat server'); updateStatus(true); };
            ws.onmessage = function(event) {
                const ev = JSON.parse(event.data);
                switch (ev.type) {
                case 'update_users':
                    onlineDiv.textContent = 'Online: ' + ev.data.online.map(u => u.name + ' (' + u.status + ')').join(', ');
                    break;
                case 'chat_message':
                    addLine('[' + ev.data.room + '] ' + ev.data.sender + ': ' + ev.data.message, ev.data.system ? 'gray' : 'green');
                    break;
                case 'user_joined':
                    addLine(ev.data.user.name + ' is online');
                    break;
                case 'user_left':
                    addLine(ev.data.user.name + ' left ' + ev.data.room);
                    break;
                case 'error':
                    addLine('Error: ' + ev.data.message, 'red');
                    break;
                }
            };
            ws.onclose = function(event) { addLine('Connection closed ' + event.code + ' ' + event.reason); updateStatus(false); ws = null; };
            ws.onerror = function() { addLine('Connection error', 'red'); updateStatus(false); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) { ws.close(); } else { connect(); }
        }

        function joinRoom() { send('join_room', {room: document.getElementById('roomInput').value}); }
        function leaveRoom() { send('leave_room', {room: document.getElementById('roomInput').value}); }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const message = input.value.trim();
            if (message) {
                send('chat_message', {room: document.getElementById('roomInput').value, message: message, private: false});
                input.value = '';
            }
        }

        document.getElementById('messageInput').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
