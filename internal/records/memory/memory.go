// Package memory is an in-process record source for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"allowance/internal/core"
	"allowance/internal/records"
	"allowance/internal/session"
)

type account struct {
	user core.User
	hash string
}

type Store struct {
	mu        sync.RWMutex
	auth      *records.LocalAuth
	accounts  map[string]account
	byEmail   map[string]string
	routes    map[string]core.Route
	histories map[string]core.History
	misc      map[string][]core.MiscClaim
}

var (
	_ records.Source = (*Store)(nil)
	_ records.Seeder = (*Store)(nil)
)

func New(auth *records.LocalAuth) *Store {
	return &Store{
		auth:      auth,
		accounts:  map[string]account{},
		byEmail:   map[string]string{},
		routes:    map[string]core.Route{},
		histories: map[string]core.History{},
		misc:      map[string][]core.MiscClaim{},
	}
}

func (s *Store) SeedUser(_ context.Context, u core.User, passwordHash string) error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[u.ID] = account{user: u, hash: passwordHash}
	s.byEmail[strings.ToLower(u.Email)] = u.ID
	return nil
}

func (s *Store) SeedRoute(_ context.Context, r core.Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[r.ID] = r
	return nil
}

func (s *Store) SeedCheckin(_ context.Context, userID string, c core.CheckinRecord) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.histories[userID]
	h.Checkins = append(h.Checkins, c)
	s.histories[userID] = h
	return nil
}

func (s *Store) SeedClaim(_ context.Context, userID string, c core.TravelClaim) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.histories[userID]
	h.Claims = append(h.Claims, c)
	s.histories[userID] = h
	return nil
}

func (s *Store) SeedMisc(_ context.Context, userID string, m core.MiscClaim) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = fmt.Sprintf("mem:%d", len(s.misc[userID])+1)
	}
	s.misc[userID] = append(s.misc[userID], m)
	return nil
}

func (s *Store) Login(_ context.Context, email, password string) (core.User, string, error) {
	s.mu.RLock()
	acc, ok := s.accounts[s.byEmail[strings.ToLower(strings.TrimSpace(email))]]
	s.mu.RUnlock()
	if !ok {
		return core.User{}, "", records.ErrInvalidCredentials
	}
	if err := s.auth.CheckPassword(acc.hash, password); err != nil {
		return core.User{}, "", err
	}
	token, err := s.auth.Issue(acc.user.ID)
	if err != nil {
		return core.User{}, "", err
	}
	return acc.user, token, nil
}

func (s *Store) History(_ context.Context, sess *session.Session, userID string) (core.History, error) {
	if err := s.auth.Authorize(sess); err != nil {
		return core.History{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[userID]; !ok {
		return core.History{}, records.ErrUserNotFound
	}
	h := s.histories[userID]
	return core.History{
		Checkins: append([]core.CheckinRecord(nil), h.Checkins...),
		Claims:   append([]core.TravelClaim(nil), h.Claims...),
	}, nil
}

func (s *Store) MiscClaims(_ context.Context, sess *session.Session, userID string) ([]core.MiscClaim, error) {
	if err := s.auth.Authorize(sess); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[userID]; !ok {
		return nil, records.ErrUserNotFound
	}
	return append([]core.MiscClaim(nil), s.misc[userID]...), nil
}

func (s *Store) Routes(_ context.Context, sess *session.Session) ([]core.Route, error) {
	if err := s.auth.Authorize(sess); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Users(_ context.Context, sess *session.Session) ([]core.User, error) {
	if err := s.auth.Authorize(sess); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
