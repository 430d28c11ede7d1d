package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps one window per key in process memory. It is not shared
// between replicas; use RedisStore for that. Keys whose hits have all left
// the window are dropped, at most one sweep per window.
type InMemoryStore struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{windows: make(map[string][]time.Time), now: time.Now}
}

// Len is the number of keys with a live window.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now, window)
	hits := prune(s.windows[key], now.Add(-window))

	if len(hits) >= limit {
		s.windows[key] = hits
		resetAt := now.Add(window)
		if len(hits) > 0 {
			resetAt = hits[0].Add(window)
		}
		return &Result{
			Limit:      limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	hits = append(hits, now)
	s.windows[key] = hits
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(hits),
		ResetAt:   hits[0].Add(window),
	}, nil
}

func (s *InMemoryStore) sweep(now time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	cutoff := now.Add(-window)
	for key, hits := range s.windows {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(s.windows, key)
		}
	}
	s.lastSweep = now
}

// prune drops hits at or before cutoff. hits is in arrival order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
