package storage

import (
	"context"
	"time"
)

// Canonical keys of client state
// Every backend stores values under these names, nothing else writes tokens
const (
	KeyAccessToken  = "nuam.access_token"
	KeyRefreshToken = "nuam.refresh_token"

	// Session id of a login waiting for the second factor
	KeyMFASession = "nuam.mfa_session"

	// Prefix of session cached payloads: nuam.cache.<name>
	CachePrefix = "nuam.cache."
)

// Backend names accepted by configuration
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// CacheKey returns storage key for cached payload name
func CacheKey(name string) string {
	return CachePrefix + name
}

// Key-value store for client state
type Store interface {
	// Get value by key
	// Has to return apperrors.ErrKeyNotFound if key is absent or expired
	Get(ctx context.Context, key string) (string, error)

	// Set value, ttl 0 means value never expires
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Delete keys, absent keys are ignored
	Delete(ctx context.Context, keys ...string) error
}
