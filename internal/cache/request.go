package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const DefaultDebounceDelay = 300 * time.Millisecond

var (
	ErrSuperseded = errors.New("request superseded by a newer one")
	ErrClosed     = errors.New("cached request is closed")
)

// Loads value for the key, has to honor ctx cancellation
type Loader[V any] func(ctx context.Context, key string) (V, error)

type RequestConfig struct {
	// Lifetime of loaded values, if not set than DefaultTTL is used
	TTL time.Duration

	// Quiet period before the loader is called, if not set than default is used
	DebounceDelay time.Duration

	Clock clock.WithDelayedExecution
}

// Request is a debounced loader with a TTL cache in front of it
// Only the latest call is alive: a new call cancels the pending one, which returns ErrSuperseded
type Request[V any] struct {
	load  Loader[V]
	cache *Memory[V]
	clock clock.WithDelayedExecution
	delay time.Duration

	mu         sync.Mutex
	cancel     context.CancelCauseFunc
	generation uint64
	closed     bool
}

func NewRequest[V any](cfg RequestConfig, load Loader[V]) *Request[V] {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	return &Request[V]{
		load:  load,
		cache: NewMemory[V](Config{TTL: cfg.TTL, Clock: cfg.Clock, Name: "request"}),
		clock: cfg.Clock,
		delay: cfg.DebounceDelay,
	}
}

// Execute serves fresh cached value at once, otherwise waits the debounce delay and loads
func (r *Request[V]) Execute(ctx context.Context, key string) (V, error) {
	var zero V

	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	callCtx, generation, err := r.begin(ctx)
	if err != nil {
		return zero, err
	}
	defer r.end(generation)

	timer := r.clock.NewTimer(r.delay)
	select {
	case <-callCtx.Done():
		timer.Stop()
		return zero, context.Cause(callCtx)
	case <-timer.C():
	}

	v, err := r.load(callCtx, key)
	if err != nil {
		if cause := context.Cause(callCtx); cause != nil {
			return zero, cause
		}
		return zero, err
	}

	r.cache.Set(key, v)
	return v, nil
}

// Clear drops cached values
func (r *Request[V]) Clear() {
	r.cache.Clear()
}

// Close cancels the pending call and drops the cache
func (r *Request[V]) Close() {
	r.mu.Lock()
	r.closed = true
	if r.cancel != nil {
		r.cancel(ErrClosed)
		r.cancel = nil
	}
	r.mu.Unlock()

	r.cache.Close()
}

func (r *Request[V]) begin(ctx context.Context) (context.Context, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, 0, ErrClosed
	}
	if r.cancel != nil {
		r.cancel(ErrSuperseded)
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	r.cancel = cancel
	r.generation++
	return callCtx, r.generation, nil
}

func (r *Request[V]) end(generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.generation == generation && r.cancel != nil {
		r.cancel(nil)
		r.cancel = nil
	}
}
