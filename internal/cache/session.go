package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/metrics"
	"github.com/nkiryanov/nuamclient/internal/storage"
)

const DefaultSessionTTL = 30 * time.Minute

type SessionConfig struct {
	// If not set than default is used
	TTL time.Duration

	// Clock to check expiry, real clock if not set
	Clock clock.PassiveClock

	Metrics *metrics.Metrics
}

type envelope[V any] struct {
	Data V `json:"data"`

	// Unix milliseconds, rounded down so an entry never outlives its TTL
	Expires int64 `json:"expires"`
}

// Session keeps cached payloads in a storage backend under nuam.cache.<name>
// Expiry is checked on read and the stale entry is removed
type Session[V any] struct {
	store   storage.Store
	ttl     time.Duration
	clock   clock.PassiveClock
	metrics *metrics.Metrics
	logger  logger.Logger
}

func NewSession[V any](cfg SessionConfig, st storage.Store, l logger.Logger) *Session[V] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Session[V]{
		store:   st,
		ttl:     cfg.TTL,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		logger:  l.With("component", "cache.session"),
	}
}

// Get returns cached value, read failures are logged and reported as a miss
func (s *Session[V]) Get(ctx context.Context, name string) (V, bool) {
	var zero V
	key := storage.CacheKey(name)

	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, apperrors.ErrKeyNotFound) {
			s.logger.Warn("Failed to read session cache", "key", key, "error", err)
		}
		s.metrics.RecordCacheLookup("session", false)
		return zero, false
	}

	var env envelope[V]
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.logger.Warn("Broken session cache entry, dropping", "key", key, "error", err)
		s.remove(ctx, key)
		s.metrics.RecordCacheLookup("session", false)
		return zero, false
	}

	if !s.clock.Now().Before(time.UnixMilli(env.Expires)) {
		s.logger.Debug("Session cache entry expired", "key", key)
		s.remove(ctx, key)
		s.metrics.RecordCacheLookup("session", false)
		return zero, false
	}

	s.metrics.RecordCacheLookup("session", true)
	return env.Data, true
}

func (s *Session[V]) Set(ctx context.Context, name string, value V) error {
	env := envelope[V]{
		Data:    value,
		Expires: s.clock.Now().Add(s.ttl).UnixMilli(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	// Backends with native expiry drop it on their own too
	return s.store.Set(ctx, storage.CacheKey(name), string(data), s.ttl)
}

func (s *Session[V]) Delete(ctx context.Context, names ...string) error {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, storage.CacheKey(name))
	}
	return s.store.Delete(ctx, keys...)
}

func (s *Session[V]) remove(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to remove session cache entry", "key", key, "error", err)
	}
}
