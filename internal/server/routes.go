// Package server wires HTTP handlers into a ServeMux for the GoChat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.HandleFunc("GET /ws", h.WebSocketHandler)
	mux.HandleFunc("GET /test", h.TestPageHandler)

	mux.HandleFunc("POST /add_user", h.AddUserHandler)
	mux.HandleFunc("POST /login", h.LoginHandler)
	mux.HandleFunc("GET /get_user", h.GetUserHandler)
	mux.HandleFunc("POST /logout", h.LogoutHandler)
	mux.HandleFunc("POST /update_status", h.UpdateStatusHandler)
	mux.HandleFunc("POST /upload_profile_picture", h.UploadProfilePictureHandler)
	mux.HandleFunc("POST /update_settings", h.UpdateSettingsHandler)

	mux.HandleFunc("GET /api/messages", h.MessagesHandler)
	mux.HandleFunc("GET /api/news", h.NewsHandler)
	mux.HandleFunc("POST /add_forum_post", h.AddForumPostHandler)
	mux.HandleFunc("GET /api/forum", h.ForumHandler)
	mux.HandleFunc("GET /api/rooms", h.RoomsHandler)
	mux.HandleFunc("GET /api/online", h.OnlineHandler)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}
	if h.staticDir != "" {
		files := http.FileServer(http.Dir(h.staticDir))
		mux.Handle("GET "+staticPrefix+"/", http.StripPrefix(staticPrefix+"/", files))
		mux.Handle("GET /", files)
	} else {
		mux.HandleFunc("GET /{$}", h.HealthHandler)
	}
	if h.mountUploads {
		uploads := http.FileServer(http.Dir(h.uploadDir))
		mux.Handle("GET "+uploadsPrefix+"/", http.StripPrefix(uploadsPrefix+"/", uploads))
	}
	return mux
}
