package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"allowance/internal/cache"
	"allowance/internal/core"
	"allowance/internal/log"
)

// expiredGrace keeps a lapsed session around long enough to answer
// ErrSessionExpired instead of ErrSessionNotFound.
const expiredGrace = 5 * time.Minute

type Store struct {
	sessions *cache.LRUCache[*Session]
	ttl      time.Duration
	now      func() time.Time
	logger   *log.Logger
}

func NewStore(maxSessions int, ttl time.Duration, logger *log.Logger) *Store {
	return &Store{
		sessions: cache.NewLRUCache[*Session](maxSessions, ttl+expiredGrace),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.WithComponent(log.ComponentSession),
	}
}

// WithClock swaps the time source of the store and its cache.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	s.sessions.WithClock(now)
	return s
}

// Cleaner exposes the backing cache to a cache.Janitor.
func (s *Store) Cleaner() cache.Cleaner {
	return s.sessions
}

// Create opens a session for user. The expiry is the token's exp claim when
// present, bounded by the store TTL.
func (s *Store) Create(token string, user core.User) (*Session, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	now := s.now()
	expires := now.Add(s.ttl)
	if exp, ok := ExpiryFromToken(token); ok && exp.Before(expires) {
		expires = exp
	}
	if !now.Before(expires) {
		return nil, fmt.Errorf("create session: %w", ErrSessionExpired)
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		User:      user,
		CreatedAt: now,
		ExpiresAt: expires,
	}
	s.sessions.SetUntil(sess.ID, sess, expires.Add(expiredGrace))

	s.logger.Debug("Session created",
		log.FieldSessionID, sess.ID,
		log.FieldUserID, user.ID,
		"expires_at", expires)
	return sess, nil
}

func (s *Store) Get(id string) (*Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Expired(s.now()) {
		s.sessions.Delete(id)
		return nil, ErrSessionExpired
	}
	return sess, nil
}

func (s *Store) Destroy(id string) {
	s.sessions.Delete(id)
}

func (s *Store) Size() int {
	return s.sessions.Size()
}
