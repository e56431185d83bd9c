package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAvatar = "default-profile.png"
	// fixed width so that ORDER BY on the text column is chronological
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// DB is the SQLite implementation of MessageStore, UserStore and ContentStore.
type DB struct {
	conn *sql.DB
}

var (
	_ MessageStore = (*DB)(nil)
	_ UserStore    = (*DB)(nil)
	_ ContentStore = (*DB)(nil)
)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks database reachability.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			gender TEXT NOT NULL DEFAULT '',
			age INTEGER NOT NULL DEFAULT 0,
			avatar TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'online',
			level INTEGER NOT NULL DEFAULT 1,
			theme TEXT NOT NULL DEFAULT '',
			chat_sounds INTEGER NOT NULL DEFAULT 1,
			private_chat INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			sender_photo TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			room TEXT NOT NULL DEFAULT '',
			private INTEGER NOT NULL DEFAULT 0,
			system INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room, created_at)`,
		`CREATE TABLE IF NOT EXISTS forum_posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS news (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts msg into the chat log.
func (db *DB) Append(ctx context.Context, msg ChatMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (sender, sender_photo, message, room, private, system, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.Sender, msg.SenderAvatar, msg.Body, msg.Room, msg.Private, msg.System, createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// QueryRecent returns a page of history, newest first.
func (db *DB) QueryRecent(ctx context.Context, room string, page, pageSize int) ([]ChatMessage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset := (page - 1) * pageSize

	query := "SELECT id, sender, sender_photo, message, room, private, system, created_at FROM messages"
	args := []any{}
	if room != "" {
		query += " WHERE room = ?"
		args = append(args, room)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0, pageSize)
	for rows.Next() {
		var (
			msg       ChatMessage
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.SenderAvatar, &msg.Body, &msg.Room, &msg.Private, &msg.System, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = parseTime(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// CreateUser registers a new account with a bcrypt password hash.
func (db *DB) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	var existing int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ? OR name = ?", u.Email, u.Name).Scan(&existing)
	switch {
	case err == nil:
		return nil, ErrDuplicateUser
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (name, email, password, gender, age, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		u.Name, u.Email, string(hashed), u.Gender, u.Age, now.Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read user id: %w", err)
	}

	return &User{
		ID:           id,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: string(hashed),
		Gender:       u.Gender,
		Age:          u.Age,
		Avatar:       defaultAvatar,
		Status:       "online",
		Level:        1,
		Settings:     Settings{ChatSounds: true, PrivateChat: true},
		CreatedAt:    now,
	}, nil
}

const userColumns = "id, name, email, password, gender, age, avatar, status, level, theme, chat_sounds, private_chat, created_at"

func scanUser(row *sql.Row) (*User, error) {
	var (
		u         User
		createdAt string
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Gender, &u.Age, &u.Avatar, &u.Status, &u.Level,
		&u.Settings.Theme, &u.Settings.ChatSounds, &u.Settings.PrivateChat, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.Avatar == "" {
		u.Avatar = defaultAvatar
	}
	if u.Level < 1 {
		u.Level = 1
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// Authenticate verifies name and password and returns the matching user.
func (db *DB) Authenticate(ctx context.Context, name, password string) (*User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE name = ?", name))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser loads a user by id.
func (db *DB) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// UpdateStatus stores the user's advertised status.
func (db *DB) UpdateStatus(ctx context.Context, id int64, status string) error {
	return db.updateUser(ctx, "UPDATE users SET status = ? WHERE id = ?", status, id)
}

// UpdateAvatar stores the user's avatar URL.
func (db *DB) UpdateAvatar(ctx context.Context, id int64, avatar string) error {
	return db.updateUser(ctx, "UPDATE users SET avatar = ? WHERE id = ?", avatar, id)
}

// UpdateSettings stores the user's client preferences.
func (db *DB) UpdateSettings(ctx context.Context, id int64, s Settings) error {
	return db.updateUser(ctx, "UPDATE users SET theme = ?, chat_sounds = ?, private_chat = ? WHERE id = ?",
		s.Theme, s.ChatSounds, s.PrivateChat, id)
}

func (db *DB) updateUser(ctx context.Context, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddForumPost stores a forum post by userID.
func (db *DB) AddForumPost(ctx context.Context, userID int64, title, content string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO forum_posts (user_id, title, content, created_at) VALUES (?, ?, ?, ?)",
		userID, title, content, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert forum post: %w", err)
	}
	return nil
}

// RecentForumPosts returns the newest posts with their author names.
func (db *DB) RecentForumPosts(ctx context.Context, limit int) ([]ForumPost, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT f.id, f.user_id, u.name, f.title, f.content, f.created_at
		FROM forum_posts f JOIN users u ON f.user_id = u.id
		ORDER BY f.created_at DESC, f.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query forum posts: %w", err)
	}
	defer rows.Close()

	var posts []ForumPost
	for rows.Next() {
		var (
			p         ForumPost
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.UserName, &p.Title, &p.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan forum post: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// RecentNews returns the newest news items.
func (db *DB) RecentNews(ctx context.Context, limit int) ([]NewsItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT title, content, created_at FROM news ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	var items []NewsItem
	for rows.Next() {
		var (
			n         NewsItem
			createdAt string
		)
		if err := rows.Scan(&n.Title, &n.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan news: %w", err)
		}
		n.CreatedAt = parseTime(createdAt)
		items = append(items, n)
	}
	return items, rows.Err()
}

// AddNews publishes a news item. It is used by operators and tests; there is
// no public endpoint for it.
func (db *DB) AddNews(ctx context.Context, title, content string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO news (title, content, created_at) VALUES (?, ?, ?)",
		title, content, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert news: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
