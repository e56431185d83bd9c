// Package auth issues login sessions and resolves WebSocket connections to
// user identities.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/presencechat/internal/store"
)

// CookieName is the cookie carrying the signed session token.
const CookieName = "gochat_session"

var (
	// ErrUnauthenticated means the request carries no valid session.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrSessionsDisabled is returned when no signing secret is configured.
	ErrSessionsDisabled = errors.New("auth: session secret not configured")
)

// Claims are the JWT claims stored in a session token.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions builds a token helper. A non-positive ttl issues tokens that
// never expire.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{secret: []byte(secret), ttl: ttl}
}

// TTL reports the configured token lifetime.
func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

// Issue signs a session token for user.
func (s *Sessions) Issue(user *store.User) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrSessionsDisabled
	}
	if user == nil || user.ID <= 0 {
		return "", errors.New("auth: user id required")
	}

	now := time.Now()
	claims := Claims{
		Name: user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(user.ID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse validates token and returns its claims.
func (s *Sessions) Parse(token string) (*Claims, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrSessionsDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// UserID returns the numeric account id encoded in the claims.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUnauthenticated
	}
	return id, nil
}

// TokenFromRequest extracts the session token from the session cookie or a
// bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// SetCookie writes the session cookie.
func (s *Sessions) SetCookie(w http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.ttl > 0 {
		cookie.MaxAge = int(s.ttl.Seconds())
	}
	http.SetCookie(w, cookie)
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
