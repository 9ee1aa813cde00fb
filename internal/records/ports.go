// Package records defines where allowance records come from. Every reader
// takes the caller's session explicitly so that upstream credentials are
// never read from shared state.
package records

import (
	"context"
	"errors"

	"allowance/internal/core"
	"allowance/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
)

// HistoryReader returns a user's check-ins and travel claims.
type HistoryReader interface {
	History(ctx context.Context, sess *session.Session, userID string) (core.History, error)
}

// MiscReader returns a user's miscellaneous claims.
type MiscReader interface {
	MiscClaims(ctx context.Context, sess *session.Session, userID string) ([]core.MiscClaim, error)
}

// RouteReader returns every configured route.
type RouteReader interface {
	Routes(ctx context.Context, sess *session.Session) ([]core.Route, error)
}

// UserLister returns every user. Only administrators are expected to call it.
type UserLister interface {
	Users(ctx context.Context, sess *session.Session) ([]core.User, error)
}

// Authenticator exchanges credentials for the user and an opaque bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (core.User, string, error)
}

// Source bundles every read port a backend provides.
type Source interface {
	HistoryReader
	MiscReader
	RouteReader
	UserLister
	Authenticator
}

