package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
)

const (
	defaultTimeout = 15 * time.Second

	// Error bodies bigger than this are not parsed
	maxErrorBody = 64 << 10
)

// Client config with sensible defaults
type Config struct {
	// API root, e.g. http://127.0.0.1:8000
	BaseURL string

	// Timeout of a single call, uploads are not limited by it
	// If not set than default is used
	Timeout time.Duration
}

// base does JSON calls against API root with the given http client
type base struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  logger.Logger
}

func newBase(cfg Config, client *http.Client, l logger.Logger) (base, error) {
	if cfg.BaseURL == "" {
		return base{}, errors.New("api base url must not be empty")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return base{}, fmt.Errorf("invalid api base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}

	return base{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		client:  client,
		logger:  l,
	}, nil
}

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	header http.Header

	// Messages for 401, default is MessageSessionExpired with apperrors.ErrAuthFailed
	unauthorizedMessage string
	unauthorizedErr     error

	// Message of a rejection without detail, default is "Error del servidor (<status>)"
	rejectedMessage string
}

func (b base) do(ctx context.Context, c call, out any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		// bytes.Reader lets transport replay the body on retry
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, b.url(c.path, c.query), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range c.header {
		req.Header[key] = values
	}

	return b.send(req, c, out)
}

func (b base) send(req *http.Request, c call, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Warn("Request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return NewError(CodeNetwork, 0, MessageConnection, fmt.Errorf("%w: %w", apperrors.ErrNetwork, err))
	}
	defer resp.Body.Close() // nolint:errcheck

	b.logger.Debug("API response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return b.processSuccess(resp, out)
	case resp.StatusCode == http.StatusUnauthorized:
		return b.processUnauthorized(resp, c)
	default:
		return b.processRejected(resp, c)
	}
}

func (b base) url(path string, query url.Values) string {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (b base) processSuccess(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	err := json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		b.logger.Warn("Failed to decode response", "error", err)
		return NewError(CodeInvalidResponse, resp.StatusCode, MessageInvalidResponse, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (b base) processUnauthorized(resp *http.Response, c call) error {
	message, sentinel := c.unauthorizedMessage, c.unauthorizedErr
	if message == "" {
		message = MessageSessionExpired
	}
	if sentinel == nil {
		sentinel = apperrors.ErrAuthFailed
	}

	detail, _ := parseErrorBody(resp.Body)
	if detail != "" {
		b.logger.Debug("Unauthorized", "detail", detail)
	}
	return NewError(CodeAuthFailed, resp.StatusCode, message, sentinel)
}

func (b base) processRejected(resp *http.Response, c call) error {
	detail, fields := parseErrorBody(resp.Body)

	message := detail
	switch {
	case message != "":
	case c.rejectedMessage != "":
		message = c.rejectedMessage
	default:
		message = fmt.Sprintf(messageRejectedTemplate, resp.StatusCode)
	}

	b.logger.Warn("Request rejected", "status_code", resp.StatusCode, "detail", detail)
	e := NewError(CodeServerRejected, resp.StatusCode, message, apperrors.ErrServerRejected)
	e.Fields = fields
	return e
}

// parseErrorBody reads DRF style error: {"detail": "..."} or {"field": ["msg", ...]}
func parseErrorBody(r io.Reader) (detail string, fields map[string]string) {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return "", nil
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(data, &body); err != nil {
		return "", nil
	}

	for key, raw := range body {
		msg := rawMessage(raw)
		if msg == "" {
			continue
		}
		switch key {
		case "detail", "error", "message":
			if detail == "" || key == "detail" {
				detail = msg
			}
		case "non_field_errors":
			detail = msg
		default:
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[key] = msg
		}
	}
	return detail, fields
}

func rawMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, " ")
	}

	return ""
}
