package calificaciones

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/api"
	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
	"github.com/nkiryanov/nuamclient/internal/testutil/apistub"
	"github.com/nkiryanov/nuamclient/internal/transport"
)

// Fixed access token, refresh is never expected
type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

func (s staticTokens) Refresh(context.Context) error {
	return errors.New("refresh not expected")
}

func newService(t *testing.T, srv *apistub.Server, u apistub.User) *Service {
	t.Helper()

	l := logger.NewNoOpLogger()
	pair := srv.IssueTokens(t, u)
	client, err := api.NewClient(api.Config{BaseURL: srv.URL}, transport.NewClient(nil, staticTokens(pair.Access), l, nil), l)
	require.NoError(t, err)

	s, err := NewService(client, l)
	require.NoError(t, err)
	return s
}

func TestNewService(t *testing.T) {
	_, err := NewService(nil, logger.NewNoOpLogger())
	require.Error(t, err)
}

func TestService_Workflow(t *testing.T) {
	srv := apistub.Start(t, apistub.Config{})
	corredor := newService(t, srv, srv.AddUser(t, "cor", "pwd", "CORREDOR", "", false))
	analista := newService(t, srv, srv.AddUser(t, "ana", "pwd", "ANALISTA", "", false))
	auditor := newService(t, srv, srv.AddUser(t, "aud", "pwd", "AUDITOR", "", false))

	created, err := corredor.Create(t.Context(), models.CalificacionInput{
		RegistroID:      7,
		CertificateType: "AFP",
		RUT:             "12.345.678-5",
		Period:          "2024-03",
		Amount:          decimal.RequireFromString("1500.50"),
	})
	require.NoError(t, err)
	require.Equal(t, models.EstadoBorrador, created.State)
	id := created.ID

	res, err := analista.Send(t.Context(), id, "")
	require.NoError(t, err)
	require.Equal(t, models.EstadoPendiente, res.State)

	_, err = analista.Send(t.Context(), id, "")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr, "pending can't be sent again")
	require.Equal(t, "Transición PENDIENTE -> PENDIENTE no permitida", apiErr.Message)

	pending, err := auditor.Pending(t.Context())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)

	res, err = auditor.Resolve(t.Context(), id, "observada", "falta firma")
	require.NoError(t, err)
	require.Equal(t, models.EstadoObservada, res.State)

	got, err := corredor.Get(t.Context(), id)
	require.NoError(t, err)
	require.Equal(t, models.EstadoObservada, got.State)
	require.Equal(t, "falta firma", got.Comment)
	require.True(t, decimal.RequireFromString("1500.5").Equal(got.Amount))

	res, err = corredor.Correct(t.Context(), id, " firmado ")
	require.NoError(t, err)
	require.Equal(t, models.EstadoBorrador, res.State)

	c, ok := srv.Calificacion(id)
	require.True(t, ok)
	require.Equal(t, "firmado", c.Comment, "comment is trimmed")

	mine, err := corredor.Mine(t.Context(), models.CalificacionFilter{State: "borrador"})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	stats, err := corredor.Stats(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, map[string]int{models.EstadoBorrador: 1}, stats.ByState)
}

func TestService_All(t *testing.T) {
	srv := apistub.Start(t, apistub.Config{})
	owner := srv.AddUser(t, "cor", "pwd", "CORREDOR", "", false)
	analista := newService(t, srv, srv.AddUser(t, "ana", "pwd", "ANALISTA", "", false))

	srv.AddCalificacion(owner, models.Calificacion{Period: "2024-01"})
	srv.AddCalificacion(owner, models.Calificacion{Period: "2024-02", State: models.EstadoRechazada})

	all, err := analista.All(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	rejected, err := analista.All(t.Context(), "RECHAZADA")
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, "2024-02", rejected[0].Period)
}

func TestService_Stats(t *testing.T) {
	srv := apistub.Start(t, apistub.Config{})
	corredor := newService(t, srv, srv.AddUser(t, "cor", "pwd", "CORREDOR", "", false))

	stats, err := corredor.Stats(t.Context())

	require.NoError(t, err)
	require.Zero(t, stats.Total)
	require.NotNil(t, stats.ByState)
}

func TestService_ValidatesBeforeSending(t *testing.T) {
	srv := apistub.Start(t, apistub.Config{})
	s := newService(t, srv, srv.AddUser(t, "ti", "pwd", "TI", "", false))
	validID := "0123456789abcdef01234567"

	tests := []struct {
		name   string
		call   func() error
		fields []string
	}{
		{"create without data", func() error {
			_, err := s.Create(t.Context(), models.CalificacionInput{})
			return err
		}, []string{"registro_id", "tipo_certificado", "rut", "periodo"}},
		{"create with bad rut and negative amount", func() error {
			_, err := s.Create(t.Context(), models.CalificacionInput{RegistroID: 1, CertificateType: "AFP", RUT: "12345678-5", Period: "2024", Amount: decimal.NewFromInt(-1)})
			return err
		}, []string{"rut", "monto"}},
		{"get with malformed id", func() error {
			_, err := s.Get(t.Context(), "42")
			return err
		}, []string{"id"}},
		{"send with malformed id", func() error {
			_, err := s.Send(t.Context(), "../rules", "")
			return err
		}, []string{"id"}},
		{"correct with malformed id", func() error {
			_, err := s.Correct(t.Context(), "", "x")
			return err
		}, []string{"id"}},
		{"resolve to a non outcome", func() error {
			_, err := s.Resolve(t.Context(), validID, models.EstadoBorrador, "")
			return err
		}, []string{"estado"}},
		{"resolve with everything wrong", func() error {
			_, err := s.Resolve(t.Context(), "nope", "", "")
			return err
		}, []string{"id", "estado"}},
		{"filter by unknown state", func() error {
			_, err := s.Mine(t.Context(), models.CalificacionFilter{State: "PERDIDA"})
			return err
		}, []string{"estado"}},
		{"analyst filter by unknown state", func() error {
			_, err := s.All(t.Context(), "VALIDADA")
			return err
		}, []string{"estado"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()

			require.ErrorIs(t, err, apperrors.ErrValidation)
			var errs validate.Errors
			require.ErrorAs(t, err, &errs)
			require.ElementsMatch(t, tt.fields, keys(errs))
		})
	}

	require.Empty(t, srv.Requests(), "nothing reaches the server")
}

func TestService_NotFound(t *testing.T) {
	srv := apistub.Start(t, apistub.Config{})
	s := newService(t, srv, srv.AddUser(t, "ti", "pwd", "TI", "", false))

	_, err := s.Get(t.Context(), "ffffffffffffffffffffffff")
	require.ErrorIs(t, err, apperrors.ErrCalificacionNotFound)

	_, err = s.Resolve(t.Context(), "ffffffffffffffffffffffff", models.EstadoAprobada, "")
	require.ErrorIs(t, err, apperrors.ErrCalificacionNotFound)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
