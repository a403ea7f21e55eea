package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/cache"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
)

type rulesAPI interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
	GetRule(ctx context.Context, id int64) (models.Rule, error)
	CreateRule(ctx context.Context, in models.RuleInput) (models.RuleCreated, error)
	UpdateRule(ctx context.Context, id int64, in models.RuleInput) error
	DeleteRule(ctx context.Context, id int64) error
	RuleHistory(ctx context.Context, id int64) (models.RuleHistory, error)
	RollbackRule(ctx context.Context, id int64, version int, comment string) (models.RollbackResult, error)
	CompareRuleVersions(ctx context.Context, id int64, v1, v2 int) (models.RuleDiff, error)
}

type Config struct {
	// Debounce and cache of Search
	Search cache.RequestConfig
}

// Business rules service
// Calls touching the same rule are sent one after another, so an edit followed by a read sees the edit
type Service struct {
	api    rulesAPI
	queue  *keyedQueue
	search *cache.Request[[]models.Rule]
	logger logger.Logger
}

func NewService(cfg Config, api rulesAPI, l logger.Logger) (*Service, error) {
	if api == nil {
		return nil, errors.New("rules api must not be nil")
	}

	s := &Service{
		api:    api,
		queue:  newKeyedQueue(),
		logger: l.With("component", "service.rules"),
	}
	s.search = cache.NewRequest[[]models.Rule](cfg.Search, s.find)
	return s, nil
}

func (s *Service) List(ctx context.Context) ([]models.Rule, error) {
	return s.api.ListRules(ctx)
}

// Search returns rules whose name or description contains query, case insensitive
// Calls are debounced: a newer search cancels the pending one with cache.ErrSuperseded
// Results are cached until the next change made through the service
func (s *Service) Search(ctx context.Context, query string) ([]models.Rule, error) {
	return s.search.Execute(ctx, strings.ToLower(strings.TrimSpace(query)))
}

func (s *Service) find(ctx context.Context, query string) ([]models.Rule, error) {
	rules, err := s.api.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return rules, nil
	}

	found := make([]models.Rule, 0, len(rules))
	for _, r := range rules {
		if strings.Contains(strings.ToLower(r.Name), query) || strings.Contains(strings.ToLower(r.Description), query) {
			found = append(found, r)
		}
	}
	return found, nil
}

// Close cancels a pending search
func (s *Service) Close() {
	s.search.Close()
}

func (s *Service) Get(ctx context.Context, id int64) (models.Rule, error) {
	var rule models.Rule
	err := s.do(ctx, id, func(ctx context.Context) (err error) {
		rule, err = s.api.GetRule(ctx, id)
		return err
	})
	return rule, err
}

// Create validates the input before sending it
func (s *Service) Create(ctx context.Context, in models.RuleInput) (models.RuleCreated, error) {
	if err := validate.Struct(in); err != nil {
		return models.RuleCreated{}, err
	}

	created, err := s.api.CreateRule(ctx, in)
	if err != nil {
		return models.RuleCreated{}, err
	}

	s.search.Clear()
	s.logger.Info("Rule created", "id", created.ID, "name", in.Name)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in models.RuleInput) error {
	if err := validate.Struct(in); err != nil {
		return err
	}

	return s.do(ctx, id, func(ctx context.Context) error {
		if err := s.api.UpdateRule(ctx, id, in); err != nil {
			return err
		}
		s.search.Clear()
		s.logger.Info("Rule updated", "id", id)
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.do(ctx, id, func(ctx context.Context) error {
		if err := s.api.DeleteRule(ctx, id); err != nil {
			return err
		}
		s.search.Clear()
		s.logger.Info("Rule deleted", "id", id)
		return nil
	})
}

func (s *Service) History(ctx context.Context, id int64) (models.RuleHistory, error) {
	var h models.RuleHistory
	err := s.do(ctx, id, func(ctx context.Context) (err error) {
		h, err = s.api.RuleHistory(ctx, id)
		return err
	})
	return h, err
}

// Rollback restores version as a new one
func (s *Service) Rollback(ctx context.Context, id int64, version int, comment string) (models.RollbackResult, error) {
	if version < 1 {
		return models.RollbackResult{}, validate.Errors{"version": "Debe ser un número positivo"}
	}

	var res models.RollbackResult
	err := s.do(ctx, id, func(ctx context.Context) (err error) {
		res, err = s.api.RollbackRule(ctx, id, version, comment)
		return err
	})
	if err != nil {
		return models.RollbackResult{}, err
	}

	s.search.Clear()
	s.logger.Info("Rule rolled back", "id", id, "to_version", version, "new_version", res.NewVersion)
	return res, nil
}

func (s *Service) Compare(ctx context.Context, id int64, v1, v2 int) (models.RuleDiff, error) {
	errs := validate.Errors{}
	if v1 < 1 {
		errs["v1"] = "Debe ser un número positivo"
	}
	if v2 < 1 {
		errs["v2"] = "Debe ser un número positivo"
	}
	if len(errs) > 0 {
		return models.RuleDiff{}, errs
	}

	var diff models.RuleDiff
	err := s.do(ctx, id, func(ctx context.Context) (err error) {
		diff, err = s.api.CompareRuleVersions(ctx, id, v1, v2)
		return err
	})
	return diff, err
}

func (s *Service) do(ctx context.Context, id int64, fn func(ctx context.Context) error) error {
	if id < 1 {
		return fmt.Errorf("rule id %d: %w", id, apperrors.ErrRuleNotFound)
	}
	return s.queue.Do(ctx, id, fn)
}
