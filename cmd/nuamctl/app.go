package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nkiryanov/nuamclient/internal/api"
	"github.com/nkiryanov/nuamclient/internal/cache"
	"github.com/nkiryanov/nuamclient/internal/db"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/metrics"
	"github.com/nkiryanov/nuamclient/internal/notify"
	"github.com/nkiryanov/nuamclient/internal/retry"
	"github.com/nkiryanov/nuamclient/internal/service/auth"
	"github.com/nkiryanov/nuamclient/internal/service/calificaciones"
	"github.com/nkiryanov/nuamclient/internal/service/certificates"
	"github.com/nkiryanov/nuamclient/internal/service/reports"
	"github.com/nkiryanov/nuamclient/internal/service/rules"
	"github.com/nkiryanov/nuamclient/internal/storage"
	"github.com/nkiryanov/nuamclient/internal/storage/file"
	"github.com/nkiryanov/nuamclient/internal/storage/memory"
	"github.com/nkiryanov/nuamclient/internal/storage/postgres"
	"github.com/nkiryanov/nuamclient/internal/storage/redis"
	"github.com/nkiryanov/nuamclient/internal/tokenstore"
	"github.com/nkiryanov/nuamclient/internal/transport"
)

// App holds wired services of one command run
type App struct {
	cfg     *Config
	logger  logger.Logger
	out     io.Writer
	metrics *metrics.Metrics

	store  storage.Store
	tokens *tokenstore.TokenStore
	client *api.Client

	auth    *auth.Service
	rules   *rules.Service
	certs   *certificates.Service
	reports *reports.Service
	califs  *calificaciones.Service

	closers []func()
}

func NewApp(ctx context.Context, c *Config, l logger.Logger, out io.Writer) (app *App, err error) {
	a := &App{cfg: c, logger: l, out: out, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = a.openStorage(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while opening %s storage. Err: %w", c.Storage, err)
	}

	apiCfg := api.Config{BaseURL: c.APIURL, Timeout: c.Timeout}

	// Token endpoints go without the refreshing transport
	authAPI, err := api.NewAuthClient(apiCfg, &http.Client{}, l)
	if err != nil {
		return nil, err
	}

	a.tokens, err = tokenstore.New(tokenstore.Config{}, authAPI, a.store, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating token store. Err: %w", err)
	}
	a.closers = append(a.closers, a.tokens.Close)

	if _, err := a.tokens.Load(ctx); err != nil {
		return nil, fmt.Errorf("error while loading session. Err: %w", err)
	}

	a.client, err = api.NewClient(apiCfg, transport.NewClient(nil, a.tokens, l, a.metrics), l)
	if err != nil {
		return nil, err
	}

	a.auth, err = auth.NewService(auth.Config{}, authAPI, a.client, a.tokens, a.store, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	a.rules, err = rules.NewService(rules.Config{}, a.client, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating rules service. Err: %w", err)
	}
	a.closers = append(a.closers, a.rules.Close)

	a.certs, err = certificates.NewService(certificates.Config{}, a.client, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating certificates service. Err: %w", err)
	}

	a.califs, err = calificaciones.NewService(a.client, l)
	if err != nil {
		return nil, fmt.Errorf("error while creating calificaciones service. Err: %w", err)
	}

	a.reports, err = reports.NewService(
		reports.Config{Cache: cache.SessionConfig{Metrics: a.metrics}},
		a.client,
		a.store,
		l,
	)
	if err != nil {
		return nil, fmt.Errorf("error while creating reports service. Err: %w", err)
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (storage.Store, error) {
	c := a.cfg

	switch c.Storage {
	case storage.BackendMemory:
		return memory.New(), nil

	case storage.BackendFile:
		path := c.StorageDSN
		if path == "" {
			var err error
			if path, err = file.DefaultPath(); err != nil {
				return nil, err
			}
		}
		a.logger.Debug("Using file storage", "path", path)
		return file.New(path), nil

	case storage.BackendPostgres:
		pool, err := db.ConnectAndMigrate(ctx, c.StorageDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)

		st := postgres.New(pool)
		if n, err := st.PurgeExpired(ctx); err != nil {
			a.logger.Warn("Failed to purge expired values", "error", err)
		} else if n > 0 {
			a.logger.Debug("Purged expired values", "count", n)
		}
		return st, nil

	case storage.BackendRedis:
		client, err := redis.Connect(ctx, c.StorageDSN, c.RedisPassword)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return redis.New(client, "nuam"), nil

	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

// Poller of the watch command, stopped by the caller
func (a *App) newPoller(autoDismiss time.Duration) *notify.Poller {
	return notify.New(
		notify.Config{Interval: a.cfg.PollInterval, AutoDismiss: autoDismiss},
		a.client,
		a.tokens,
		a.logger,
		a.metrics,
	)
}

// Close releases timers and connections in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// read runs an idempotent call with configured retries
func read[T any](ctx context.Context, a *App, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, retry.Attempts(a.cfg.Retries), fn)
}

var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
