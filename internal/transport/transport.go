package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/metrics"
)

// Limit of the 401 body drained before resending, the rest is dropped with the connection
const maxDrain = 64 << 10

// Source of the bearer token and the way to renew it
type TokenProvider interface {
	// Current access token, empty string if there is no session
	AccessToken(ctx context.Context) (string, error)

	// Renew the token pair
	// Concurrent calls are expected to share one refresh
	Refresh(ctx context.Context) error
}

// Transport attaches bearer token to each request
// On 401 it refreshes the pair and resends the request exactly once
type Transport struct {
	base    http.RoundTripper
	tokens  TokenProvider
	logger  logger.Logger
	metrics *metrics.Metrics
}

// New wraps base, http.DefaultTransport is used if base is nil
// m may be nil
func New(base http.RoundTripper, tokens TokenProvider, l logger.Logger, m *metrics.Metrics) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{
		base:    base,
		tokens:  tokens,
		logger:  l.With("component", "transport"),
		metrics: m,
	}
}

// NewClient returns http client over the transport
func NewClient(base http.RoundTripper, tokens TokenProvider, l logger.Logger, m *metrics.Metrics) *http.Client {
	return &http.Client{Transport: New(base, tokens, l, m)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.send(req, req.Body)
	if err != nil {
		// Network failures are never retried here
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if !replayable(req) {
		t.logger.Debug("Got 401 for request with one-shot body, not retrying", "method", req.Method, "url", req.URL.Path)
		return resp, nil
	}

	if err := t.tokens.Refresh(req.Context()); err != nil {
		t.metrics.RecordAuthRetry("refresh_failed")
		t.logger.Info("Token refresh after 401 failed", "url", req.URL.Path, "error", err)
		// The caller gets the original 401
		return resp, nil
	}

	body, err := rewind(req)
	if err != nil {
		t.metrics.RecordAuthRetry("rewind_failed")
		return resp, nil
	}

	discard(resp)
	t.metrics.RecordAuthRetry("refreshed")
	t.logger.Debug("Resending request with renewed token", "method", req.Method, "url", req.URL.Path)

	// Second 401 is terminal, it is returned as is
	return t.send(req, body)
}

func (t *Transport) send(req *http.Request, body io.ReadCloser) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.tokens.AccessToken(ctx)
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, fmt.Errorf("can't read access token: %w", err)
	}

	// RoundTripper must not modify the original request
	out := req.Clone(ctx)
	out.Body = body
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		t.metrics.RecordRequest(req.Method, "error", time.Since(start))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
	}
	t.metrics.RecordRequest(req.Method, strconv.Itoa(resp.StatusCode), time.Since(start))

	return resp, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func rewind(req *http.Request) (io.ReadCloser, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body can't be replayed")
	}
	return req.GetBody()
}

func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
	_ = resp.Body.Close()
}
