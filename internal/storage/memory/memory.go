package memory

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

type entry struct {
	value     string
	expiresAt time.Time // zero if never expires
}

// Process local store
// Expired entries are dropped lazily on read
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.PassiveClock
}

func New() *Store {
	return NewWithClock(clock.RealClock{})
}

func NewWithClock(c clock.PassiveClock) *Store {
	return &Store{
		entries: make(map[string]entry),
		clock:   c,
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", apperrors.ErrKeyNotFound
	}

	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", apperrors.ErrKeyNotFound
	}

	return e.value, nil
}

func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e

	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}

	return nil
}
