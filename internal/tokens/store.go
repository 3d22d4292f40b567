package tokens

import (
	"sync"
	"time"
)

// Store holds one server's cached token. Writes happen only inside the
// Manager's critical section; reads may happen lock-free via ReadIfFresh on
// the fast path. A reader may observe a token that goes stale microseconds
// later, which the refresh buffer already absorbs.
type Store struct {
	mu    sync.RWMutex
	token Token
}

// ReadIfFresh returns the cached value when the freshness invariant holds.
// It has no side effects, so it is safe as an unlocked fast-path check.
func (s *Store) ReadIfFresh(now time.Time, refreshBuffer time.Duration) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token.Fresh(now, refreshBuffer) {
		return s.token.Value, true
	}
	return "", false
}

// Put replaces the cached token unconditionally. Last writer wins: every
// writer holds a correct recently-acquired token, and the Manager's lock
// prevents concurrent writers anyway.
func (s *Store) Put(value string, expiresAt time.Time) {
	s.mu.Lock()
	s.token = Token{Value: value, ExpiresAt: expiresAt}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current token, fresh or not. Used by the
// status endpoint and the stale-fallback policy.
func (s *Store) Snapshot() Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
