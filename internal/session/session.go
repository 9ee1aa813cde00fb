// Package session keeps the logged-in user's token and identity as an explicit
// value. It is created at login, passed to every service call that needs
// upstream credentials and destroyed at logout.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"allowance/internal/core"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrEmptyToken      = errors.New("empty token")
)

type Session struct {
	ID        string
	Token     string
	User      core.User
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsAdmin reports whether the session user holds the administrator role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.User.IsAdmin()
}

// CanAccess reports whether the session may read userID's records.
func (s *Session) CanAccess(userID string) bool {
	if s == nil {
		return false
	}
	return s.IsAdmin() || s.User.ID == userID
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// BearerToken returns the token to send upstream, or "" for a nil session.
func (s *Session) BearerToken() string {
	if s == nil {
		return ""
	}
	return s.Token
}

// ExpiryFromToken reads the exp claim of a JWT without verifying its
// signature. ok is false when the token is not a JWT or carries no exp.
func ExpiryFromToken(token string) (exp time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

type contextKey struct{}

func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
