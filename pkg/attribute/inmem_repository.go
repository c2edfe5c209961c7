package attribute

import (
	"context"
	"sync"
)

// InMemoryStore implements Store using in-memory storage
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]map[string][]string // userID -> name -> values
}

// NewInMemoryStore creates a new in-memory attribute store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]map[string][]string),
	}
}

func (s *InMemoryStore) Get(ctx context.Context, userID, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyValues(s.users[userID][name]), nil
}

func (s *InMemoryStore) Set(ctx context.Context, userID, name string, values []string) error {
	if len(values) == 0 {
		return s.Remove(ctx, userID, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.users[userID]
	if !ok {
		attrs = make(map[string][]string)
		s.users[userID] = attrs
	}
	attrs[name] = copyValues(values)
	return nil
}

func (s *InMemoryStore) Remove(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.users[userID]
	if !ok {
		return nil
	}
	delete(attrs, name)
	if len(attrs) == 0 {
		delete(s.users, userID)
	}
	return nil
}

func (s *InMemoryStore) All(ctx context.Context, userID string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string][]string, len(s.users[userID]))
	for name, values := range s.users[userID] {
		result[name] = copyValues(values)
	}
	return result, nil
}

func (s *InMemoryStore) RemoveAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func copyValues(values []string) []string {
	result := make([]string, len(values))
	copy(result, values)
	return result
}
