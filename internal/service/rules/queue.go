package rules

import (
	"context"
	"sync"
)

type slot struct {
	// Single token semaphore, waiters are served in arrival order
	sem  chan struct{}
	refs int
}

// keyedQueue runs calls for the same key one at a time
// Calls for different keys do not wait for each other
type keyedQueue struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{slots: make(map[int64]*slot)}
}

func (q *keyedQueue) Do(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	s := q.acquireSlot(key)
	defer q.releaseSlot(key, s)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	return fn(ctx)
}

func (q *keyedQueue) acquireSlot(key int64) *slot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		q.slots[key] = s
	}
	s.refs++
	return s
}

func (q *keyedQueue) releaseSlot(key int64, s *slot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(q.slots, key)
	}
}

func (q *keyedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.slots)
}
