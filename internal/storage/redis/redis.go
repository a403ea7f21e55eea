package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

// Store keeps client state in redis, expiry is native
type Store struct {
	client *redis.Client
	prefix string
}

// Namespace lets several profiles share one redis database
func New(client *redis.Client, namespace string) *Store {
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	return &Store{client: client, prefix: prefix}
}

// Connect creates client and checks the server answers
func Connect(ctx context.Context, addr string, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis is not reachable: %w", err)
	}

	return client, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, redis.Nil):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", fmt.Errorf("redis error: %w", err)
	}
}

func (s *Store) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.prefix + key
	}

	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}
