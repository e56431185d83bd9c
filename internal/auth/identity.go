package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/store"
)

// Identity is the verified user bound to a connection. It does not change for
// the lifetime of the connection.
type Identity struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Status      presence.Status
	Level       int
}

// Presence converts the identity into a roster record owned by connID.
func (id Identity) Presence(connID string) presence.Record {
	return presence.Record{
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
		Status:      id.Status,
		Level:       id.Level,
		ConnID:      connID,
	}
}

// Provider resolves the identity behind an inbound connection request.
type Provider interface {
	ResolveIdentity(r *http.Request) (Identity, error)
}

// UserLookup loads account details for a session.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// SessionProvider resolves identities from session tokens and refreshes the
// profile fields from the user store.
type SessionProvider struct {
	sessions *Sessions
	users    UserLookup
}

var _ Provider = (*SessionProvider)(nil)

// NewSessionProvider wires a Provider backed by signed session tokens.
func NewSessionProvider(sessions *Sessions, users UserLookup) *SessionProvider {
	return &SessionProvider{sessions: sessions, users: users}
}

// ResolveIdentity returns ErrUnauthenticated when the request has no valid
// session or the account no longer exists.
func (p *SessionProvider) ResolveIdentity(r *http.Request) (Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := p.sessions.Parse(token)
	if err != nil {
		return Identity{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return Identity{}, err
	}

	user, err := p.users.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, ErrUnauthenticated
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load session user: %w", err)
	}
	return IdentityFromUser(user), nil
}

// IdentityFromUser maps an account to an Identity, defaulting unknown status
// to online.
func IdentityFromUser(user *store.User) Identity {
	status, err := presence.ParseStatus(user.Status)
	if err != nil {
		status = presence.StatusOnline
	}
	level := user.Level
	if level < 1 {
		level = 1
	}
	return Identity{
		ID:          strconv.FormatInt(user.ID, 10),
		DisplayName: user.Name,
		AvatarURL:   user.Avatar,
		Status:      status,
		Level:       level,
	}
}
