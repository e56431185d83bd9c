// Package store persists users, chat history, forum posts and news.
//
// The chat engine only depends on MessageStore; the remaining interfaces back
// the HTTP account and content endpoints.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateUser is returned when the name or email is already registered.
	ErrDuplicateUser = errors.New("store: email or username already registered")
	// ErrInvalidCredentials is returned when a login does not match.
	ErrInvalidCredentials = errors.New("store: invalid username or password")
)

// DefaultPageSize is the history page size used when callers pass zero.
const DefaultPageSize = 50

// ChatMessage is one entry of the append-only chat log.
type ChatMessage struct {
	ID           int64     `json:"id,omitempty"`
	Sender       string    `json:"sender"`
	SenderAvatar string    `json:"sender_photo"`
	Body         string    `json:"message"`
	Room         string    `json:"room"`
	Private      bool      `json:"private"`
	System       bool      `json:"system"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageStore is the durable chat log.
type MessageStore interface {
	Append(ctx context.Context, msg ChatMessage) error
	// QueryRecent returns one page of messages, newest first. An empty room
	// selects all rooms. Pages start at 1.
	QueryRecent(ctx context.Context, room string, page, pageSize int) ([]ChatMessage, error)
}

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Gender       string    `json:"gender"`
	Age          int       `json:"age"`
	Avatar       string    `json:"avatar"`
	Status       string    `json:"status"`
	Level        int       `json:"level"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"created_at"`
}

// Settings are per-user client preferences.
type Settings struct {
	Theme       string `json:"theme"`
	ChatSounds  bool   `json:"chat_sounds"`
	PrivateChat bool   `json:"private_chat"`
}

// NewUser carries registration input.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Gender   string
	Age      int
}

// UserStore manages accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u NewUser) (*User, error)
	Authenticate(ctx context.Context, name, password string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdateAvatar(ctx context.Context, id int64, avatar string) error
	UpdateSettings(ctx context.Context, id int64, s Settings) error
}

// ForumPost is a titled post on the community board.
type ForumPost struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewsItem is an announcement shown on the landing page.
type NewsItem struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentStore backs the forum and news endpoints.
type ContentStore interface {
	AddForumPost(ctx context.Context, userID int64, title, content string) error
	RecentForumPosts(ctx context.Context, limit int) ([]ForumPost, error)
	RecentNews(ctx context.Context, limit int) ([]NewsItem, error)
}
