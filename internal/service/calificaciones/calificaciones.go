// Package calificaciones drives the review workflow of tax qualifications:
// brokers draft and correct them, analysts send them to validation, auditors resolve them
package calificaciones

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
)

// Calificaciones are addressed by Mongo object ids
var idRe = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

const msgInvalidID = "ID de calificación inválido"

type califAPI interface {
	MyCalificaciones(ctx context.Context, f models.CalificacionFilter) (models.CalificacionList, error)
	CalificacionStats(ctx context.Context) (models.CalificacionStatsResponse, error)
	CreateCalificacion(ctx context.Context, in models.CalificacionInput) (models.CalificacionCreated, error)
	GetCalificacion(ctx context.Context, id string) (models.Calificacion, error)
	CorrectCalificacion(ctx context.Context, id, comment string) (models.CalificacionStateChange, error)
	AllCalificaciones(ctx context.Context, state string) (models.CalificacionList, error)
	SendToValidation(ctx context.Context, id, comment string) (models.CalificacionStateChange, error)
	PendingCalificaciones(ctx context.Context) (models.CalificacionList, error)
	ResolveCalificacion(ctx context.Context, id, state, comment string) (models.CalificacionStateChange, error)
}

type Service struct {
	api    califAPI
	logger logger.Logger
}

func NewService(api califAPI, l logger.Logger) (*Service, error) {
	if api == nil {
		return nil, errors.New("calificaciones api must not be nil")
	}

	return &Service{
		api:    api,
		logger: l.With("component", "service.calificaciones"),
	}, nil
}

// Mine lists calificaciones of the current broker
func (s *Service) Mine(ctx context.Context, f models.CalificacionFilter) ([]models.Calificacion, error) {
	f.State = strings.ToUpper(strings.TrimSpace(f.State))
	if err := validate.Struct(f); err != nil {
		return nil, err
	}

	list, err := s.api.MyCalificaciones(ctx, f)
	return list.Calificaciones, err
}

func (s *Service) Stats(ctx context.Context) (models.CalificacionStats, error) {
	res, err := s.api.CalificacionStats(ctx)
	if err != nil {
		return models.CalificacionStats{}, err
	}
	if res.Stats.ByState == nil {
		res.Stats.ByState = map[string]int{}
	}
	return res.Stats, nil
}

func (s *Service) Create(ctx context.Context, in models.CalificacionInput) (models.CalificacionCreated, error) {
	errs := validate.Errors{}
	if err := validate.Struct(in); err != nil {
		if !errors.As(err, &errs) {
			return models.CalificacionCreated{}, err
		}
	}
	if in.Amount.IsNegative() {
		errs["monto"] = "Debe ser un número positivo"
	}
	if len(errs) > 0 {
		return models.CalificacionCreated{}, errs
	}

	created, err := s.api.CreateCalificacion(ctx, in)
	if err != nil {
		return models.CalificacionCreated{}, err
	}

	s.logger.Info("Calificacion created", "id", created.ID, "rut", in.RUT, "audit_requested", created.AuditRequested)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (models.Calificacion, error) {
	if err := checkID(id); err != nil {
		return models.Calificacion{}, err
	}
	return s.api.GetCalificacion(ctx, id)
}

// Correct answers an observation, the calificacion goes back to BORRADOR
func (s *Service) Correct(ctx context.Context, id, comment string) (models.CalificacionStateChange, error) {
	if err := checkID(id); err != nil {
		return models.CalificacionStateChange{}, err
	}

	res, err := s.api.CorrectCalificacion(ctx, id, strings.TrimSpace(comment))
	if err != nil {
		return models.CalificacionStateChange{}, err
	}

	s.logger.Info("Calificacion corrected", "id", id)
	return res, nil
}

// All is the analyst list, state filters it when set
func (s *Service) All(ctx context.Context, state string) ([]models.Calificacion, error) {
	f := models.CalificacionFilter{State: strings.ToUpper(strings.TrimSpace(state))}
	if err := validate.Struct(f); err != nil {
		return nil, err
	}

	list, err := s.api.AllCalificaciones(ctx, f.State)
	return list.Calificaciones, err
}

// Send moves a draft to the validation inbox
func (s *Service) Send(ctx context.Context, id, comment string) (models.CalificacionStateChange, error) {
	if err := checkID(id); err != nil {
		return models.CalificacionStateChange{}, err
	}

	res, err := s.api.SendToValidation(ctx, id, strings.TrimSpace(comment))
	if err != nil {
		return models.CalificacionStateChange{}, err
	}

	s.logger.Info("Calificacion sent to validation", "id", id)
	return res, nil
}

// Pending is the validation inbox, newest first
func (s *Service) Pending(ctx context.Context) ([]models.Calificacion, error) {
	list, err := s.api.PendingCalificaciones(ctx)
	return list.Calificaciones, err
}

// Resolve gives the review outcome: APROBADA, OBSERVADA or RECHAZADA
func (s *Service) Resolve(ctx context.Context, id, state, comment string) (models.CalificacionStateChange, error) {
	state = strings.ToUpper(strings.TrimSpace(state))

	errs := validate.Errors{}
	if !idRe.MatchString(id) {
		errs["id"] = msgInvalidID
	}
	if !slices.Contains(models.Resolutions, state) {
		errs["estado"] = "Valor inválido, permitidos: " + strings.Join(models.Resolutions, ", ")
	}
	if len(errs) > 0 {
		return models.CalificacionStateChange{}, errs
	}

	res, err := s.api.ResolveCalificacion(ctx, id, state, strings.TrimSpace(comment))
	if err != nil {
		return models.CalificacionStateChange{}, err
	}

	s.logger.Info("Calificacion resolved", "id", id, "estado", res.State)
	return res, nil
}

func checkID(id string) error {
	if !idRe.MatchString(id) {
		return validate.Errors{"id": msgInvalidID}
	}
	return nil
}
