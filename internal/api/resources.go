package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
)

const (
	pathProfile              = "/api/perfil/"
	pathAudit                = "/api/auditoria/"
	pathReportCalificaciones = "/api/reportes/calificaciones/"
	pathReportAudit          = "/api/reportes/auditoria/"
)

// Client calls endpoints of the authenticated user
// The http client is expected to attach the bearer token (see transport package)
type Client struct {
	base
}

func NewClient(cfg Config, client *http.Client, l logger.Logger) (*Client, error) {
	b, err := newBase(cfg, client, l.With("component", "api"))
	if err != nil {
		return nil, err
	}
	return &Client{base: b}, nil
}

func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	var p models.Profile
	err := c.do(ctx, call{method: http.MethodGet, path: pathProfile}, &p)
	return p, err
}

// RecentAudit returns latest audit records, newest first
func (c *Client) RecentAudit(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var page models.AuditPage
	err := c.do(ctx, call{method: http.MethodGet, path: pathAudit, query: query}, &page)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

func (c *Client) CalificacionesReport(ctx context.Context, days int) (models.CalificacionesReport, error) {
	var r models.CalificacionesReport
	err := c.do(ctx, call{method: http.MethodGet, path: pathReportCalificaciones, query: daysQuery(days)}, &r)
	return r, err
}

func (c *Client) AuditReport(ctx context.Context, days int) (models.AuditReport, error) {
	var r models.AuditReport
	err := c.do(ctx, call{method: http.MethodGet, path: pathReportAudit, query: daysQuery(days)}, &r)
	return r, err
}

func daysQuery(days int) url.Values {
	query := url.Values{}
	if days > 0 {
		query.Set("dias", strconv.Itoa(days))
	}
	return query
}
