package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/models"
)

const pathRules = "/api/reglas-negocio/"

func rulePath(id int64, action string) string {
	p := fmt.Sprintf("%s%d/", pathRules, id)
	if action != "" {
		p += action + "/"
	}
	return p
}

func (c *Client) ListRules(ctx context.Context) ([]models.Rule, error) {
	var rules []models.Rule
	err := c.do(ctx, call{method: http.MethodGet, path: pathRules}, &rules)
	return rules, err
}

func (c *Client) GetRule(ctx context.Context, id int64) (models.Rule, error) {
	var rule models.Rule
	err := c.do(ctx, call{method: http.MethodGet, path: rulePath(id, "")}, &rule)
	return rule, ruleError(err)
}

func (c *Client) CreateRule(ctx context.Context, in models.RuleInput) (models.RuleCreated, error) {
	var created models.RuleCreated
	err := c.do(ctx, call{method: http.MethodPost, path: pathRules, body: in}, &created)
	return created, err
}

// UpdateRule replaces the rule, server bumps its version
func (c *Client) UpdateRule(ctx context.Context, id int64, in models.RuleInput) error {
	err := c.do(ctx, call{method: http.MethodPut, path: rulePath(id, ""), body: in}, nil)
	return ruleError(err)
}

func (c *Client) DeleteRule(ctx context.Context, id int64) error {
	err := c.do(ctx, call{method: http.MethodDelete, path: rulePath(id, "")}, nil)
	return ruleError(err)
}

func (c *Client) RuleHistory(ctx context.Context, id int64) (models.RuleHistory, error) {
	var h models.RuleHistory
	err := c.do(ctx, call{method: http.MethodGet, path: rulePath(id, "historial")}, &h)
	return h, ruleError(err)
}

// RollbackRule restores given version as a new one
func (c *Client) RollbackRule(ctx context.Context, id int64, version int, comment string) (models.RollbackResult, error) {
	body := struct {
		Version int    `json:"version"`
		Comment string `json:"comentario,omitempty"`
	}{version, comment}

	var res models.RollbackResult
	err := c.do(ctx, call{method: http.MethodPost, path: rulePath(id, "rollback"), body: body}, &res)
	return res, ruleError(err)
}

func (c *Client) CompareRuleVersions(ctx context.Context, id int64, v1, v2 int) (models.RuleDiff, error) {
	query := url.Values{}
	query.Set("v1", strconv.Itoa(v1))
	query.Set("v2", strconv.Itoa(v2))

	var diff models.RuleDiff
	err := c.do(ctx, call{method: http.MethodGet, path: rulePath(id, "comparar"), query: query}, &diff)
	return diff, ruleError(err)
}

// Marks 404 with apperrors.ErrRuleNotFound
func ruleError(err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		apiErr.Err = apperrors.ErrRuleNotFound
	}
	return err
}
