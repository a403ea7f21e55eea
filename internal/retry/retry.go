// Package retry provides exponential backoff for idempotent API calls.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nkiryanov/nuamclient/internal/api"
	"github.com/nkiryanov/nuamclient/internal/apperrors"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// Waits between attempts, real timer if not set
	Timer backoff.Timer
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Attempts returns config doing n tries in total, n < 1 means a single try
func Attempts(n int) Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = max(n, 1)
	return cfg
}

// IsRetryable reports whether err is worth another try
// Network failures, 5xx and 429 are, auth and validation failures never are
func IsRetryable(err error) bool {
	if errors.Is(err, apperrors.ErrAuthFailed) || errors.Is(err, apperrors.ErrValidation) {
		return false
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case api.CodeNetwork:
			return true
		case api.CodeServerRejected:
			return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
		default:
			return false
		}
	}

	return errors.Is(err, apperrors.ErrNetwork)
}

func (cfg Config) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.BaseDelay
	exp.Multiplier = 2
	exp.MaxInterval = cfg.MaxDelay
	exp.MaxElapsedTime = 0
	exp.RandomizationFactor = 0
	if cfg.Jitter {
		exp.RandomizationFactor = 0.5
	}
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = backoff.DefaultMaxInterval
	}

	retries := uint64(max(cfg.MaxAttempts, 1) - 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// Do executes fn with exponential backoff while the error is retryable
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	op := func() error {
		err := fn(ctx)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.RetryNotifyWithTimer(op, cfg.backOff(ctx), nil, cfg.Timer)
}

// Value is Do for calls returning a result
func Value[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
