package ledger

import (
	"sync"
	"time"

	id "idledger/pkg/domain"
)

// DefaultSessionTTL is how long a principal's last acknowledged height is
// remembered after its last commit.
const DefaultSessionTTL = 10 * time.Minute

// Sessions remembers the highest height acknowledged to each principal so
// that principal's reads never miss its own commits. Entries idle for longer
// than the TTL are forgotten; the map holds only recently active principals.
type Sessions struct {
	mu        sync.RWMutex
	entries   map[id.Principal]session
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type session struct {
	height uint64
	seen   time.Time
}

type SessionOption func(*Sessions)

func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Sessions) {
		s.now = now
	}
}

func NewSessions(opts ...SessionOption) *Sessions {
	s := &Sessions{
		entries: make(map[id.Principal]session),
		ttl:     DefaultSessionTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

// Observe records height for p. Heights only move forward.
func (s *Sessions) Observe(p id.Principal, height uint64) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[p]
	if height > e.height || s.expired(e, now) {
		e.height = height
	}
	e.seen = now
	s.entries[p] = e
	s.sweep(now)
}

// MinHeight is the lowest height a read by p may reflect.
func (s *Sessions) MinHeight(p id.Principal) uint64 {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[p]
	if !ok || s.expired(e, now) {
		return 0
	}
	return e.height
}

// Len is the number of principals currently remembered.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Sessions) expired(e session, now time.Time) bool {
	return now.Sub(e.seen) > s.ttl
}

// sweep drops idle entries at most once per TTL. Callers hold mu.
func (s *Sessions) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.ttl {
		return
	}
	for p, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, p)
		}
	}
	s.lastSweep = now
}
