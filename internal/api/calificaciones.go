package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/models"
)

const (
	pathCalifCorredor  = "/api/calificaciones-corredor/"
	pathCalifStats     = "/api/calificaciones-corredor/estadisticas/"
	pathCalifAnalista  = "/api/calificaciones-analista/"
	pathCalifPendiente = "/api/calificaciones-pendientes/"
)

// Calificaciones of the current broker
func (c *Client) MyCalificaciones(ctx context.Context, f models.CalificacionFilter) (models.CalificacionList, error) {
	query := url.Values{}
	for k, v := range map[string]string{
		"estado":           f.State,
		"periodo":          f.Period,
		"tipo_certificado": f.CertificateType,
	} {
		if v != "" {
			query.Set(k, v)
		}
	}

	var list models.CalificacionList
	err := c.do(ctx, call{method: http.MethodGet, path: pathCalifCorredor, query: query}, &list)
	return list, err
}

func (c *Client) CalificacionStats(ctx context.Context) (models.CalificacionStatsResponse, error) {
	var stats models.CalificacionStatsResponse
	err := c.do(ctx, call{method: http.MethodGet, path: pathCalifStats}, &stats)
	return stats, err
}

func (c *Client) CreateCalificacion(ctx context.Context, in models.CalificacionInput) (models.CalificacionCreated, error) {
	var created models.CalificacionCreated
	err := c.do(ctx, call{method: http.MethodPost, path: pathCalifCorredor, body: in}, &created)
	return created, err
}

func (c *Client) GetCalificacion(ctx context.Context, id string) (models.Calificacion, error) {
	var calif models.Calificacion
	err := c.do(ctx, call{method: http.MethodGet, path: pathCalifCorredor + url.PathEscape(id) + "/"}, &calif)
	return calif, califError(err)
}

// CorrectCalificacion sends the broker correction of an observed calificacion, server moves it back to BORRADOR
func (c *Client) CorrectCalificacion(ctx context.Context, id, comment string) (models.CalificacionStateChange, error) {
	body := struct {
		Comment string `json:"comentario"`
	}{comment}

	var res models.CalificacionStateChange
	err := c.do(ctx, call{method: http.MethodPut, path: pathCalifCorredor + url.PathEscape(id) + "/", body: body}, &res)
	return res, califError(err)
}

// AllCalificaciones is the analyst view, state is optional
func (c *Client) AllCalificaciones(ctx context.Context, state string) (models.CalificacionList, error) {
	query := url.Values{}
	if state != "" {
		query.Set("estado", state)
	}

	var list models.CalificacionList
	err := c.do(ctx, call{method: http.MethodGet, path: pathCalifAnalista, query: query}, &list)
	return list, err
}

// SendToValidation moves a draft to PENDIENTE
func (c *Client) SendToValidation(ctx context.Context, id, comment string) (models.CalificacionStateChange, error) {
	body := struct {
		Comment string `json:"comentario,omitempty"`
	}{comment}

	var res models.CalificacionStateChange
	err := c.do(ctx, call{method: http.MethodPost, path: pathCalifAnalista + url.PathEscape(id) + "/enviar/", body: body}, &res)
	return res, califError(err)
}

// PendingCalificaciones is the validation inbox, documents included
func (c *Client) PendingCalificaciones(ctx context.Context) (models.CalificacionList, error) {
	var list models.CalificacionList
	err := c.do(ctx, call{method: http.MethodGet, path: pathCalifPendiente}, &list)
	return list, err
}

func (c *Client) ResolveCalificacion(ctx context.Context, id, state, comment string) (models.CalificacionStateChange, error) {
	body := struct {
		State   string `json:"estado"`
		Comment string `json:"comentario,omitempty"`
	}{state, comment}

	var res models.CalificacionStateChange
	err := c.do(ctx, call{method: http.MethodPost, path: pathCalifPendiente + url.PathEscape(id) + "/resolver/", body: body}, &res)
	return res, califError(err)
}

// Marks 404 with apperrors.ErrCalificacionNotFound
func califError(err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		apiErr.Err = apperrors.ErrCalificacionNotFound
	}
	return err
}
