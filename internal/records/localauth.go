package records

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"allowance/internal/session"
)

// LocalAuth issues and checks bearer tokens for the sqlite and memory
// backends, which have no upstream to log in against.
type LocalAuth struct {
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func NewLocalAuth(secret string, ttl time.Duration) *LocalAuth {
	return &LocalAuth{
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

// WithCost sets the bcrypt cost used by HashPassword.
func (a *LocalAuth) WithCost(cost int) *LocalAuth {
	a.cost = cost
	return a
}

func (a *LocalAuth) WithClock(now func() time.Time) *LocalAuth {
	a.now = now
	return a
}

func (a *LocalAuth) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (a *LocalAuth) CheckPassword(hash, password string) error {
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Issue signs a token for userID that expires after the configured TTL.
func (a *LocalAuth) Issue(userID string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Subject verifies token and returns the user id it was issued for.
func (a *LocalAuth) Subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", ErrUnauthorized, session.ErrSessionExpired)
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Authorize checks that sess carries a token this backend issued.
func (a *LocalAuth) Authorize(sess *session.Session) error {
	if sess == nil || sess.Token == "" {
		return ErrUnauthorized
	}
	_, err := a.Subject(sess.Token)
	return err
}
