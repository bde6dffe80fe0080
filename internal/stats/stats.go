// Package stats provides per-target call counters behind a small
// interface. The count decorator increments through it; the targets
// command reads it back.
//
// Two implementations: MemoryStore for single-process use and tests,
// RedisStore for counters shared across garland processes.
package stats

import (
	"context"
	"sync"
)

// Store tallies how often each target has been called.
type Store interface {
	// Incr adds one to the target's counter.
	Incr(ctx context.Context, target string) error
	// Get returns the target's current count. Unknown targets are 0.
	Get(ctx context.Context, target string) (int64, error)
	// Snapshot returns every known target's count.
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// MemoryStore counts in a mutex-guarded map. The zero value is ready to
// use.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

// Incr adds one to the target's counter.
func (s *MemoryStore) Incr(_ context.Context, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[target]++
	return nil
}

// Get returns the target's current count.
func (s *MemoryStore) Get(_ context.Context, target string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[target], nil
}

// Snapshot returns a copy of every counter.
func (s *MemoryStore) Snapshot(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

// Reset clears all counters.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int64)
}
