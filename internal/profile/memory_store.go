package profile

import (
	"context"
	"sync"

	"github.com/mbd888/riskflow/internal/events"
)

// MemoryStore is an in-memory profile store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]events.CustomerProfile
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]events.CustomerProfile)}
}

// Put stores or replaces the profile for a customer.
func (s *MemoryStore) Put(customerID string, p events.CustomerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[customerID] = p
}

func (s *MemoryStore) Get(ctx context.Context, customerID string) (*events.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[customerID]; ok {
		cp := p
		return &cp, nil
	}
	return Default(), nil
}
