package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps cooldown entries in process
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

func (s *MemoryStore) Load(_ context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	s.entries[key] = at
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
