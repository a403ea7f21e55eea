package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/storage"
)

const (
	// Access token lives ~15 minutes on the server, renew a minute earlier
	defaultRenewOffset = 14 * time.Minute

	refreshKey = "refresh"
)

type authAPI interface {
	// Exchange refresh token for a new pair
	RefreshTokens(ctx context.Context, refresh string) (models.TokenPair, error)

	// Invalidate refresh token on the server
	Logout(ctx context.Context, pair models.TokenPair) error
}

// Token store config with sensible defaults
type Config struct {
	// Delay between storing a pair and its proactive renewal
	// If not set than default is used
	RenewOffset time.Duration

	// Storage keys, canonical keys are used if not set
	AccessKey  string
	RefreshKey string

	// Clock to schedule renewal, real clock if not set
	Clock clock.WithDelayedExecution
}

// TokenStore owns the token pair of the current session
// Pair is kept in memory and mirrored to storage, renewal timer is owned by the store
type TokenStore struct {
	api     authAPI
	storage storage.Store
	logger  logger.Logger
	clock   clock.WithDelayedExecution

	renewOffset time.Duration
	accessKey   string
	refreshKey  string

	// Collapses concurrent refreshes into one call
	group singleflight.Group

	mu         sync.Mutex
	pair       models.TokenPair
	renewTimer clock.Timer

	// Memory is ahead of storage: the last write or delete failed
	// Storage values are stale then and must not be read
	diverged bool

	generation uint64
	closed     bool
	observers  map[int]func(models.TokenPair)
	nextID     int

	// Background renewals run with this context, cancelled on Close
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func New(cfg Config, api authAPI, st storage.Store, l logger.Logger) (*TokenStore, error) {
	if api == nil {
		return nil, errors.New("auth api must not be nil")
	}
	if st == nil {
		return nil, errors.New("storage must not be nil")
	}

	if cfg.RenewOffset <= 0 {
		cfg.RenewOffset = defaultRenewOffset
	}
	setDefaultString := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefaultString(&cfg.AccessKey, storage.KeyAccessToken)
	setDefaultString(&cfg.RefreshKey, storage.KeyRefreshToken)
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &TokenStore{
		api:         api,
		storage:     st,
		logger:      l.With("component", "tokenstore"),
		clock:       cfg.Clock,
		renewOffset: cfg.RenewOffset,
		accessKey:   cfg.AccessKey,
		refreshKey:  cfg.RefreshKey,
		observers:   make(map[int]func(models.TokenPair)),
		bgCtx:       bgCtx,
		bgCancel:    bgCancel,
	}, nil
}

// Load restores pair saved by a previous process and schedules its renewal
// Returns zero pair if storage has no session
func (s *TokenStore) Load(ctx context.Context) (models.TokenPair, error) {
	access, err := s.read(ctx, s.accessKey)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := s.read(ctx, s.refreshKey)
	if err != nil {
		return models.TokenPair{}, err
	}

	pair := models.TokenPair{Access: access, Refresh: refresh}
	if pair.IsZero() {
		return pair, nil
	}

	s.mu.Lock()
	s.pair = pair
	s.scheduleRenewLocked()
	s.mu.Unlock()

	s.notify(pair)
	return pair, nil
}

// SetTokens replaces the pair wholesale and reschedules renewal
// Storage failures are logged, the in-memory pair is updated anyway and wins over storage until a write succeeds
func (s *TokenStore) SetTokens(ctx context.Context, pair models.TokenPair) {
	s.mu.Lock()
	s.pair = pair
	s.diverged = true
	s.scheduleRenewLocked()
	s.mu.Unlock()

	persisted := true
	if err := s.storage.Set(ctx, s.accessKey, pair.Access, 0); err != nil {
		s.logger.Error("Failed to persist access token", "error", err)
		persisted = false
	}
	if err := s.storage.Set(ctx, s.refreshKey, pair.Refresh, 0); err != nil {
		s.logger.Error("Failed to persist refresh token", "error", err)
		persisted = false
	}
	if persisted {
		s.synced(pair)
	}

	s.logger.Debug("Tokens stored", "renew_in", s.renewOffset)
	s.notify(pair)
}

// Tokens returns in-memory pair snapshot
func (s *TokenStore) Tokens() models.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pair
}

// AccessToken reads the token at call time
// Storage wins so that a pair renewed by another process is picked up,
// unless the last write to storage failed
func (s *TokenStore) AccessToken(ctx context.Context) (string, error) {
	return s.current(ctx, s.accessKey, func(p models.TokenPair) string { return p.Access }), nil
}

func (s *TokenStore) refreshToken(ctx context.Context) string {
	return s.current(ctx, s.refreshKey, func(p models.TokenPair) string { return p.Refresh })
}

func (s *TokenStore) current(ctx context.Context, key string, fromPair func(models.TokenPair) string) string {
	s.mu.Lock()
	diverged, pair := s.diverged, s.pair
	s.mu.Unlock()
	if diverged {
		return fromPair(pair)
	}

	value, err := s.storage.Get(ctx, key)
	if err == nil && value != "" {
		return value
	}
	if err != nil && !errors.Is(err, apperrors.ErrKeyNotFound) {
		s.logger.Warn("Failed to read token from storage, using memory", "key", key, "error", err)
	}

	return fromPair(s.Tokens())
}

// Refresh exchanges refresh token for a new pair
// Concurrent callers share one in-flight request and its result
// Without refresh token returns apperrors.ErrNoSession and does no network call
// On failure the session is logged out and error wraps apperrors.ErrAuthFailed
func (s *TokenStore) Refresh(ctx context.Context) error {
	// The shared call must outlive any single caller
	callCtx := context.WithoutCancel(ctx)

	ch := s.group.DoChan(refreshKey, func() (any, error) {
		return nil, s.refresh(callCtx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *TokenStore) refresh(ctx context.Context) error {
	refresh := s.refreshToken(ctx)
	if refresh == "" {
		s.logger.Debug("No refresh token, skip refresh")
		return apperrors.ErrNoSession
	}

	pair, err := s.api.RefreshTokens(ctx, refresh)
	if err != nil {
		s.logger.Warn("Token refresh failed, logging out", "error", err)
		s.Logout(ctx)
		return fmt.Errorf("%w: %w", apperrors.ErrAuthFailed, err)
	}

	// Server may not rotate refresh token
	if pair.Refresh == "" {
		pair.Refresh = refresh
	}

	s.SetTokens(ctx, pair)
	s.logger.Info("Access token refreshed")
	return nil
}

// Logout tells the server to drop the refresh token (best effort)
// and then clears storage, memory and the renewal timer
func (s *TokenStore) Logout(ctx context.Context) {
	pair := models.TokenPair{
		Access:  s.current(ctx, s.accessKey, func(p models.TokenPair) string { return p.Access }),
		Refresh: s.refreshToken(ctx),
	}

	if pair.Access != "" && pair.Refresh != "" {
		if err := s.api.Logout(ctx, pair); err != nil {
			s.logger.Warn("Server logout failed, clearing local session anyway", "error", err)
		}
	}

	s.mu.Lock()
	s.pair = models.TokenPair{}
	s.diverged = true
	s.stopRenewLocked()
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.accessKey, s.refreshKey); err != nil {
		s.logger.Error("Failed to clear tokens in storage", "error", err)
	} else {
		s.synced(models.TokenPair{})
	}

	s.logger.Info("Logged out")
	s.notify(models.TokenPair{})
}

// Subscribe registers fn called with the pair after every change
// Returned func removes the subscription
func (s *TokenStore) Subscribe(fn func(models.TokenPair)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Close stops the renewal timer and waits for a running renewal
// Stored tokens are kept, use Logout to drop them
func (s *TokenStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopRenewLocked()
	s.mu.Unlock()

	s.bgCancel()
	s.bgWG.Wait()
}

// Storage caught up with pair, unless the pair was replaced meanwhile
func (s *TokenStore) synced(pair models.TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pair == pair {
		s.diverged = false
	}
}

func (s *TokenStore) notify(pair models.TokenPair) {
	s.mu.Lock()
	observers := make([]func(models.TokenPair), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(pair)
	}
}

func (s *TokenStore) read(ctx context.Context, key string) (string, error) {
	value, err := s.storage.Get(ctx, key)
	if errors.Is(err, apperrors.ErrKeyNotFound) {
		return "", nil
	}
	return value, err
}

// At most one renewal is pending, the previous one is cancelled
func (s *TokenStore) scheduleRenewLocked() {
	s.stopRenewLocked()
	if s.closed || s.pair.Refresh == "" {
		return
	}

	generation := s.generation
	s.renewTimer = s.clock.AfterFunc(s.renewOffset, func() {
		// Clock may run callbacks under its own lock, so never block here
		go s.fireRenew(generation)
	})
}

func (s *TokenStore) fireRenew(generation uint64) {
	s.mu.Lock()
	// Timer fired after being replaced or after close
	if s.closed || generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.renewTimer = nil
	s.bgWG.Add(1)
	s.mu.Unlock()

	defer s.bgWG.Done()
	s.renew()
}

func (s *TokenStore) stopRenewLocked() {
	s.generation++
	if s.renewTimer != nil {
		s.renewTimer.Stop()
		s.renewTimer = nil
	}
}

func (s *TokenStore) renew() {
	s.logger.Debug("Scheduled token renewal")

	err := s.Refresh(s.bgCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Scheduled token renewal failed", "error", err)
	}
}
