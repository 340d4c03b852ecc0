package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	count     int64
	windowEnd time.Time
}

// MemoryStore is an in-memory counter store. Thread-safe; suitable for
// development, tests, and single-instance deployments.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memoryRecord
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*memoryRecord)}
}

// Incr implements Store.
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.data[key]
	if !ok || rec.windowEnd.Before(now) {
		rec = &memoryRecord{windowEnd: now.Add(window)}
		s.data[key] = rec
	}
	rec.count++
	return rec.count, time.Until(rec.windowEnd), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure interface compliance at compile time.
var _ Store = (*MemoryStore)(nil)
