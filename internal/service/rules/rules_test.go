package rules

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/cache"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
)

// In-memory rules API, records call order
type fakeAPI struct {
	mu    sync.Mutex
	rules map[int64]models.Rule
	log   []string
	delay time.Duration

	// Closed when an update reaches the API, may be nil
	updateStarted chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{rules: map[int64]models.Rule{
		1: {ID: 1, Name: "Tope", Version: 1, State: models.RuleActive},
	}}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, call)
}

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeAPI) ListRules(context.Context) ([]models.Rule, error) {
	f.record("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Rule
	for _, r := range f.rules {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeAPI) GetRule(ctx context.Context, id int64) (models.Rule, error) {
	f.record("get")
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return models.Rule{}, apperrors.ErrRuleNotFound
	}
	return r, nil
}

func (f *fakeAPI) CreateRule(ctx context.Context, in models.RuleInput) (models.RuleCreated, error) {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	id := int64(len(f.rules) + 1)
	f.rules[id] = models.Rule{ID: id, Name: in.Name, Version: 1, State: in.State}
	return models.RuleCreated{Detail: "Regla creada", ID: id}, nil
}

func (f *fakeAPI) UpdateRule(ctx context.Context, id int64, in models.RuleInput) error {
	if f.updateStarted != nil {
		close(f.updateStarted)
	}
	time.Sleep(f.delay)
	f.record("update")
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rules[id]
	r.Name = in.Name
	r.Version++
	f.rules[id] = r
	return nil
}

func (f *fakeAPI) DeleteRule(ctx context.Context, id int64) error {
	f.record("delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, id)
	return nil
}

func (f *fakeAPI) RuleHistory(ctx context.Context, id int64) (models.RuleHistory, error) {
	f.record("history")
	return models.RuleHistory{RuleID: id}, nil
}

func (f *fakeAPI) RollbackRule(ctx context.Context, id int64, version int, comment string) (models.RollbackResult, error) {
	f.record("rollback")
	return models.RollbackResult{NewVersion: 3}, nil
}

func (f *fakeAPI) CompareRuleVersions(ctx context.Context, id int64, v1, v2 int) (models.RuleDiff, error) {
	f.record("compare")
	return models.RuleDiff{RuleID: id}, nil
}

func validInput(name string) models.RuleInput {
	return models.RuleInput{
		Name:        name,
		Description: "Límite de monto",
		Condition:   "monto > 1000",
		Action:      "RECHAZAR",
		State:       models.RuleActive,
	}
}

func newService(t *testing.T, api *fakeAPI) *Service {
	t.Helper()
	s, err := NewService(Config{Search: cache.RequestConfig{DebounceDelay: time.Millisecond}}, api, logger.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestService_Create(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		api := newFakeAPI()
		s := newService(t, api)

		created, err := s.Create(t.Context(), validInput("Nueva"))

		require.NoError(t, err)
		require.EqualValues(t, 2, created.ID)
	})

	t.Run("invalid input is not sent", func(t *testing.T) {
		api := newFakeAPI()
		s := newService(t, api)
		in := validInput(strings.Repeat("x", 151))
		in.State = "BORRADOR"

		_, err := s.Create(t.Context(), in)

		var errs validate.Errors
		require.ErrorAs(t, err, &errs)
		require.Contains(t, errs, "nombre")
		require.Contains(t, errs, "estado")
		require.Empty(t, api.calls())
	})
}

func TestService_UpdateThenReadIsOrdered(t *testing.T) {
	api := newFakeAPI()
	api.delay = 20 * time.Millisecond
	api.updateStarted = make(chan struct{})
	s := newService(t, api)

	updated := make(chan error, 1)
	go func() {
		updated <- s.Update(t.Context(), 1, validInput("Tope nuevo"))
	}()
	<-api.updateStarted

	rule, err := s.Get(t.Context(), 1)

	require.NoError(t, err)
	require.NoError(t, <-updated)
	require.Equal(t, "Tope nuevo", rule.Name, "read must see the edit sent before it")
	require.Equal(t, 2, rule.Version)
	require.Equal(t, []string{"update", "get"}, api.calls())
}

func TestService_Validation(t *testing.T) {
	api := newFakeAPI()
	s := newService(t, api)

	_, err := s.Rollback(t.Context(), 1, 0, "")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = s.Compare(t.Context(), 1, 0, 2)
	var errs validate.Errors
	require.ErrorAs(t, err, &errs)
	require.Equal(t, validate.Errors{"v1": "Debe ser un número positivo"}, errs)

	_, err = s.Get(t.Context(), 0)
	require.ErrorIs(t, err, apperrors.ErrRuleNotFound)

	require.Empty(t, api.calls())
}

func TestService_Passthrough(t *testing.T) {
	api := newFakeAPI()
	s := newService(t, api)

	rules, err := s.List(t.Context())
	require.NoError(t, err)
	require.Len(t, rules, 1)

	h, err := s.History(t.Context(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.RuleID)

	res, err := s.Rollback(t.Context(), 1, 1, "revert")
	require.NoError(t, err)
	require.Equal(t, 3, res.NewVersion)

	_, err = s.Compare(t.Context(), 1, 1, 2)
	require.NoError(t, err)

	require.NoError(t, s.Delete(t.Context(), 1))
	_, err = s.Get(t.Context(), 1)
	require.ErrorIs(t, err, apperrors.ErrRuleNotFound)

	require.Equal(t, []string{"list", "history", "rollback", "compare", "delete", "get"}, api.calls())
}

func TestService_Search(t *testing.T) {
	api := newFakeAPI()
	s := newService(t, api)

	found, err := s.Search(t.Context(), "  TOP ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Tope", found[0].Name)

	found, err = s.Search(t.Context(), "top")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, []string{"list"}, api.calls(), "same query is served from cache")

	none, err := s.Search(t.Context(), "retención")
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = s.Create(t.Context(), validInput("Tope mensual"))
	require.NoError(t, err)

	found, err = s.Search(t.Context(), "top")
	require.NoError(t, err)
	require.Len(t, found, 2, "change through the service drops cached results")
	require.Equal(t, []string{"list", "list", "create", "list"}, api.calls())
}

func TestService_CloseCancelsSearch(t *testing.T) {
	api := newFakeAPI()
	s, err := NewService(Config{Search: cache.RequestConfig{DebounceDelay: time.Hour}}, api, logger.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	first := make(chan error, 1)
	go func() {
		_, err := s.Search(t.Context(), "a")
		first <- err
	}()

	require.Eventually(t, func() bool {
		s.search.Close()
		select {
		case err := <-first:
			require.ErrorIs(t, err, cache.ErrClosed)
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, api.calls(), "pending search never reaches the API")
}
