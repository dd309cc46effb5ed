// Package token issues bearer tokens for configured users and tracks
// per-token activity, from which per-owner inactivity is derived.
package token

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SweepInterval is how often expired tokens are proactively evicted.
const SweepInterval = 5 * time.Minute

// User is the credential owner a token is bound to.
type User struct {
	Key         string
	DisplayName string
}

// Token is one issued bearer credential.
type Token struct {
	Value        string
	User         User
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Store issues and validates tokens. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	tokens   map[string]*Token // keyed by token value
	lifetime time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a Store issuing tokens with the given lifetime.
func NewStore(lifetime time.Duration) *Store {
	return &Store{
		tokens:   make(map[string]*Token),
		lifetime: lifetime,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// SetNow overrides the clock. Tests only.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// SetLifetime changes the lifetime applied to newly issued tokens. Existing
// tokens keep their original expiry.
func (s *Store) SetLifetime(lifetime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lifetime = lifetime
}

// StartSweeper runs the periodic expiry sweep until Stop is called.
func (s *Store) StartSweeper() {
	go func() {
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if n := s.sweep(); n > 0 {
					log.Printf("[token] swept %d expired token(s)", n)
				}
			}
		}
	}()
}

// Stop halts the sweeper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Issue creates a token for user, replacing any prior token for the same
// user so inactivity tracking reflects only the newest session.
func (s *Store) Issue(user User) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	for value, t := range s.tokens {
		if t.User.Key == user.Key {
			delete(s.tokens, value)
		}
	}

	now := s.now()
	t := &Token{
		Value:        uuid.NewString(),
		User:         user,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.lifetime),
		LastActivity: now,
	}
	s.tokens[t.Value] = t
	return *t
}

// Validate looks up a token by value, refreshing its activity clock.
// Expired tokens are evicted lazily here.
func (s *Store) Validate(value string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[value]
	if !ok {
		return Token{}, false
	}
	now := s.now()
	if now.After(t.ExpiresAt) {
		delete(s.tokens, value)
		return Token{}, false
	}
	t.LastActivity = now
	return *t, true
}

// Revoke removes a token by value.
func (s *Store) Revoke(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, value)
}

// InactiveOwners returns the keys of owners whose most recent token
// activity is older than timeout.
func (s *Store) InactiveOwners(timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.latestActivityLocked()
	cutoff := s.now().Add(-timeout)
	var out []string
	for key, last := range latest {
		if last.Before(cutoff) {
			out = append(out, key)
		}
	}
	return out
}

// OwnerSessions pairs an owner with their live session (token) count.
type OwnerSessions struct {
	User     User
	Sessions int
}

// ActiveOwners returns the users whose most recent token activity falls
// within the inactivity window. Stale-but-unexpired sessions do not inflate
// the count.
func (s *Store) ActiveOwners(window time.Duration) []OwnerSessions {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	byKey := make(map[string]*OwnerSessions)
	var order []string
	for _, t := range s.tokens {
		if t.LastActivity.Before(cutoff) {
			continue
		}
		entry, ok := byKey[t.User.Key]
		if !ok {
			entry = &OwnerSessions{User: t.User}
			byKey[t.User.Key] = entry
			order = append(order, t.User.Key)
		}
		entry.Sessions++
	}

	out := make([]OwnerSessions, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}

func (s *Store) latestActivityLocked() map[string]time.Time {
	latest := make(map[string]time.Time)
	for _, t := range s.tokens {
		if t.LastActivity.After(latest[t.User.Key]) {
			latest[t.User.Key] = t.LastActivity
		}
	}
	return latest
}

func (s *Store) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for value, t := range s.tokens {
		if now.After(t.ExpiresAt) {
			delete(s.tokens, value)
			removed++
		}
	}
	return removed
}
