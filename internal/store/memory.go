package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]json.RawMessage
	notifier *notifier
	closed   bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]json.RawMessage),
		notifier: newNotifier(),
	}
}

// Get returns the value stored under key
func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	// Copy so callers can't mutate stored bytes
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value under key and notifies subscribers
func (s *MemoryStore) Set(_ context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	s.values[key] = stored
	if !s.closed {
		s.notifier.notify(key, stored)
	}
	return nil
}

// Delete removes key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Subscribe returns a channel receiving new values for key
func (s *MemoryStore) Subscribe(key string) <-chan json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier.subscribe(key)
}

// Close closes all subscriber channels
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.notifier.closeAll()
	}
	return nil
}
