package reports

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/nuamclient/internal/cache"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/storage"
)

const defaultDays = 30

type reportsAPI interface {
	CalificacionesReport(ctx context.Context, days int) (models.CalificacionesReport, error)
	AuditReport(ctx context.Context, days int) (models.AuditReport, error)
}

type Config struct {
	Cache cache.SessionConfig
}

// Reports service, payloads are served from the session cache when fresh
type Service struct {
	api            reportsAPI
	calificaciones *cache.Session[models.CalificacionesReport]
	audit          *cache.Session[models.AuditReport]
	logger         logger.Logger
}

func NewService(cfg Config, api reportsAPI, st storage.Store, l logger.Logger) (*Service, error) {
	if api == nil || st == nil {
		return nil, errors.New("reports dependencies must not be nil")
	}

	return &Service{
		api:            api,
		calificaciones: cache.NewSession[models.CalificacionesReport](cfg.Cache, st, l),
		audit:          cache.NewSession[models.AuditReport](cfg.Cache, st, l),
		logger:         l.With("component", "service.reports"),
	}, nil
}

// Options of a report read
type Options struct {
	// Period in days, 30 if not set
	Days int

	// Skip cached value and refetch
	Refresh bool
}

func (o Options) days() int {
	if o.Days <= 0 {
		return defaultDays
	}
	return o.Days
}

func (s *Service) Calificaciones(ctx context.Context, opts Options) (models.CalificacionesReport, error) {
	return cached(ctx, s, s.calificaciones, cacheName("calificaciones", opts.days()), opts.Refresh, func(ctx context.Context) (models.CalificacionesReport, error) {
		return s.api.CalificacionesReport(ctx, opts.days())
	})
}

func (s *Service) Audit(ctx context.Context, opts Options) (models.AuditReport, error) {
	return cached(ctx, s, s.audit, cacheName("auditoria", opts.days()), opts.Refresh, func(ctx context.Context) (models.AuditReport, error) {
		return s.api.AuditReport(ctx, opts.days())
	})
}

func cached[V any](ctx context.Context, s *Service, c *cache.Session[V], name string, refresh bool, fetch func(ctx context.Context) (V, error)) (V, error) {
	if !refresh {
		if v, ok := c.Get(ctx, name); ok {
			s.logger.Debug("Report served from cache", "name", name)
			return v, nil
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	if err := c.Set(ctx, name, v); err != nil {
		s.logger.Warn("Failed to cache report", "name", name, "error", err)
	}
	return v, nil
}

// Clear drops cached reports of the period
func (s *Service) Clear(ctx context.Context, days int) error {
	if days <= 0 {
		days = defaultDays
	}
	err := errors.Join(
		s.calificaciones.Delete(ctx, cacheName("calificaciones", days)),
		s.audit.Delete(ctx, cacheName("auditoria", days)),
	)
	if err != nil {
		return fmt.Errorf("failed to clear reports cache: %w", err)
	}
	return nil
}

func cacheName(report string, days int) string {
	return fmt.Sprintf("reportes_%s_%d", report, days)
}
