package profile

import (
	"context"
	"sync"

	id "idledger/pkg/domain"
	"idledger/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[id.Principal]Profile
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[id.Principal]Profile)}
}

func (s *InMemoryStore) Put(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Principal] = p
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, principal id.Principal) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[principal]
	if !ok {
		return Profile{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }
