package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/presencechat/internal/auth"
	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadSize = 5 << 20
	contentLimit  = 10
)

var allowedImageExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	return dec.Decode(v)
}

// sessionUser returns the user id and claims of the logged-in caller.
func (h *Handlers) sessionUser(r *http.Request) (int64, *auth.Claims, error) {
	token := auth.TokenFromRequest(r)
	if token == "" || h.Sessions == nil {
		return 0, nil, auth.ErrUnauthenticated
	}
	claims, err := h.Sessions.Parse(token)
	if err != nil {
		return 0, nil, err
	}
	id, err := claims.UserID()
	if err != nil {
		return 0, nil, err
	}
	return id, claims, nil
}

type addUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Gender   string `json:"gender"`
	Age      int    `json:"age"`
}

// AddUserHandler registers a new account.
func (h *Handlers) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" || req.Gender == "" || req.Age <= 0 {
		writeError(w, http.StatusBadRequest, "All fields are required!")
		return
	}

	user, err := h.Users.CreateUser(r.Context(), store.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Gender:   req.Gender,
		Age:      req.Age,
	})
	if errors.Is(err, store.ErrDuplicateUser) {
		writeError(w, http.StatusBadRequest, "Email or username already registered!")
		return
	}
	if err != nil {
		h.Logger.Error("failed to create user", "name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "Database error occurred!")
		return
	}

	h.Logger.Info("user registered", "user_id", user.ID, "name", user.Name)
	writeMessage(w, http.StatusCreated, "User added successfully!")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler verifies credentials and sets the session cookie.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required!")
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		h.Logger.Warn("failed login attempt", "name", req.Username)
		writeError(w, http.StatusUnauthorized, "Invalid username or password!")
		return
	}
	if err != nil {
		h.Logger.Error("login failed", "name", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred during login")
		return
	}

	token, err := h.Sessions.Issue(user)
	if err != nil {
		h.Logger.Error("failed to issue session", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred during login")
		return
	}
	h.Sessions.SetCookie(w, token)

	h.Logger.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Login successful!",
		"user":       user.Name,
		"avatar":     user.Avatar,
		"token":      token,
		"expires_in": int(h.Sessions.TTL().Seconds()),
	})
}

// GetUserHandler returns the account behind the session.
func (h *Handlers) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	user, err := h.Users.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	if err != nil {
		h.Logger.Error("failed to load user", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logged_in": true,
		"user_id":   user.ID,
		"user_name": user.Name,
		"avatar":    user.Avatar,
		"status":    user.Status,
		"level":     user.Level,
		"settings":  user.Settings,
	})
}

// LogoutHandler clears the session cookie.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, _ *http.Request) {
	auth.ClearCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully!")
}

// UpdateStatusHandler persists a status change and refreshes the live roster.
func (h *Handlers) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}
	status, err := presence.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	if err := h.Users.UpdateStatus(r.Context(), id, string(status)); err != nil {
		h.Logger.Error("failed to update status", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update status")
		return
	}
	if _, err := h.Hub.UpdatePresence(strconv.FormatInt(id, 10), presence.FieldStatus, status); err != nil {
		h.Logger.Warn("failed to update presence status", "user_id", id, "error", err)
	}

	h.Logger.Info("status updated", "user_id", id, "status", status)
	writeMessage(w, http.StatusOK, fmt.Sprintf("Status updated to %s", status))
}

// UploadProfilePictureHandler stores an avatar image and refreshes the live roster.
func (h *Handlers) UploadProfilePictureHandler(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("profilePicture")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !allowedImageExtensions[ext] {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	filename := fmt.Sprintf("%d_%s.%s", id, time.Now().UTC().Format("20060102150405"), ext)
	if err := h.saveUpload(filename, file); err != nil {
		h.Logger.Error("failed to save profile picture", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to upload picture")
		return
	}

	url := path.Join(h.uploadURL, filename)
	if err := h.Users.UpdateAvatar(r.Context(), id, url); err != nil {
		h.Logger.Error("failed to update avatar", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to upload picture")
		return
	}
	if _, err := h.Hub.UpdatePresence(strconv.FormatInt(id, 10), presence.FieldAvatar, url); err != nil {
		h.Logger.Warn("failed to update presence avatar", "user_id", id, "error", err)
	}

	h.Logger.Info("profile picture uploaded", "user_id", id, "url", url)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

func (h *Handlers) saveUpload(name string, src io.Reader) error {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(h.uploadDir, name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// UpdateSettingsHandler saves client preferences.
func (h *Handlers) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	var settings store.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings")
		return
	}
	if settings.Theme == "" {
		settings.Theme = "light"
	}

	if err := h.Users.UpdateSettings(r.Context(), id, settings); err != nil {
		h.Logger.Error("failed to update settings", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}
	h.Logger.Info("settings updated", "user_id", id)
	writeMessage(w, http.StatusOK, "Settings updated successfully")
}

// MessagesHandler returns one page of chat history, newest first.
func (h *Handlers) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			writeError(w, http.StatusBadRequest, "Invalid page")
			return
		}
		page = p
	}
	room := strings.TrimSpace(r.URL.Query().Get("room"))

	messages, err := h.Messages.QueryRecent(r.Context(), room, page, store.DefaultPageSize)
	if err != nil {
		h.Logger.Error("failed to fetch messages", "page", page, "room", room, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// NewsHandler returns the latest news items.
func (h *Handlers) NewsHandler(w http.ResponseWriter, r *http.Request) {
	news, err := h.Content.RecentNews(r.Context(), contentLimit)
	if err != nil {
		h.Logger.Error("failed to fetch news", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch news")
		return
	}
	if news == nil {
		news = []store.NewsItem{}
	}
	writeJSON(w, http.StatusOK, news)
}

// AddForumPostHandler creates a forum post for the logged-in user.
func (h *Handlers) AddForumPostHandler(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Not logged in")
		return
	}
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Title and content are required")
		return
	}

	if err := h.Content.AddForumPost(r.Context(), id, req.Title, req.Content); err != nil {
		h.Logger.Error("failed to add forum post", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to add forum post")
		return
	}
	h.Logger.Info("forum post added", "user_id", id)
	writeMessage(w, http.StatusCreated, "Forum post added successfully")
}

// ForumHandler returns the latest forum posts.
func (h *Handlers) ForumHandler(w http.ResponseWriter, r *http.Request) {
	posts, err := h.Content.RecentForumPosts(r.Context(), contentLimit)
	if err != nil {
		h.Logger.Error("failed to fetch forum posts", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch forum posts")
		return
	}
	if posts == nil {
		posts = []store.ForumPost{}
	}
	writeJSON(w, http.StatusOK, posts)
}

// RoomsHandler lists live rooms and their member counts.
func (h *Handlers) RoomsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Hub.Rooms())
}

// OnlineHandler returns the current roster.
func (h *Handlers) OnlineHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RosterPayload{Online: h.Hub.Online()})
}
