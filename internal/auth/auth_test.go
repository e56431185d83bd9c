package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/presencechat/internal/presence"
	"github.com/Tyrowin/presencechat/internal/store"
)

type fakeUsers map[int64]*store.User

func (f fakeUsers) GetUser(_ context.Context, id int64) (*store.User, error) {
	if id == 500 {
		return nil, errors.New("db offline")
	}
	u, ok := f[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func TestIssueAndParse(t *testing.T) {
	s := NewSessions("test-secret", time.Hour)
	token, err := s.Issue(&store.User{ID: 42, Name: "anbu"})
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "anbu", claims.Name)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestParseRejectsBadTokens(t *testing.T) {
	s := NewSessions("test-secret", time.Hour)

	other, err := NewSessions("other-secret", time.Hour).Issue(&store.User{ID: 1, Name: "x"})
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredToken, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": other,
		"expired":      expiredToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Parse(token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestIssueRequiresSecret(t *testing.T) {
	_, err := NewSessions("", time.Hour).Issue(&store.User{ID: 1})
	assert.ErrorIs(t, err, ErrSessionsDisabled)
}

func TestResolveIdentity(t *testing.T) {
	sessions := NewSessions("test-secret", time.Hour)
	users := fakeUsers{
		7: {ID: 7, Name: "bala", Avatar: "/b.png", Status: "away", Level: 3},
	}
	provider := NewSessionProvider(sessions, users)

	token, err := sessions.Issue(users[7])
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: token})

		id, err := provider.ResolveIdentity(req)
		require.NoError(t, err)
		assert.Equal(t, Identity{ID: "7", DisplayName: "bala", AvatarURL: "/b.png", Status: presence.StatusAway, Level: 3}, id)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		id, err := provider.ResolveIdentity(req)
		require.NoError(t, err)
		assert.Equal(t, "7", id.ID)
	})

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := provider.ResolveIdentity(req)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("deleted account", func(t *testing.T) {
		ghost, err := sessions.Issue(&store.User{ID: 99, Name: "ghost"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: ghost})

		_, err = provider.ResolveIdentity(req)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("store failure", func(t *testing.T) {
		broken, err := sessions.Issue(&store.User{ID: 500, Name: "x"})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: broken})

		_, err = provider.ResolveIdentity(req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestIdentityFromUserDefaults(t *testing.T) {
	id := IdentityFromUser(&store.User{ID: 3, Name: "c", Status: "busy", Level: 0})
	assert.Equal(t, presence.StatusOnline, id.Status)
	assert.Equal(t, 1, id.Level)

	rec := id.Presence("conn-1")
	assert.Equal(t, "3", rec.UserID)
	assert.Equal(t, "conn-1", rec.ConnID)
}
