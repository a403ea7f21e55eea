package cache

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/nkiryanov/nuamclient/internal/metrics"
)

const DefaultTTL = 5 * time.Minute

// Memory cache config with sensible defaults
type Config struct {
	// Lifetime of an entry, if not set than default is used
	TTL time.Duration

	// Clock for expiry timers, real clock if not set
	Clock clock.WithDelayedExecution

	// Name reported to metrics, metrics are optional
	Name    string
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Name == "" {
		c.Name = "memory"
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	timer     clock.Timer
}

// Memory is a process local TTL cache
// Every entry owns an eviction timer, Get also checks expiry so a stale value is never returned
type Memory[V any] struct {
	ttl     time.Duration
	clock   clock.WithDelayedExecution
	name    string
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry[V]
	closed  bool
}

func NewMemory[V any](cfg Config) *Memory[V] {
	cfg.setDefaults()

	return &Memory[V]{
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		name:    cfg.Name,
		metrics: cfg.Metrics,
		entries: make(map[string]*entry[V]),
	}
}

func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	e, ok := m.entries[key]
	if ok && !m.clock.Now().Before(e.expiresAt) {
		m.removeLocked(key)
		ok = false
	}

	m.metrics.RecordCacheLookup(m.name, ok)
	if !ok {
		return zero, false
	}
	return e.value, true
}

// Set stores value for the configured TTL, previous entry and its timer are replaced
func (m *Memory[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.removeLocked(key)

	e := &entry[V]{
		value:     value,
		expiresAt: m.clock.Now().Add(m.ttl),
	}
	e.timer = m.clock.AfterFunc(m.ttl, func() {
		// Clock may run callbacks under its own lock
		go m.evict(key, e)
	})
	m.entries[key] = e
}

func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
}

// Clear drops all entries and stops their timers
func (m *Memory[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		m.removeLocked(key)
	}
}

func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Close clears the cache, later Set calls are ignored
func (m *Memory[V]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for key := range m.entries {
		m.removeLocked(key)
	}
}

func (m *Memory[V]) evict(key string, e *entry[V]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Entry may be replaced after the timer fired
	if m.entries[key] == e {
		delete(m.entries, key)
	}
}

func (m *Memory[V]) removeLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(m.entries, key)
}
