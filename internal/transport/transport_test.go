package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/metrics"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/storage/memory"
	"github.com/nkiryanov/nuamclient/internal/tokenstore"
)

type fakeTokens struct {
	mu       sync.Mutex
	access   string
	next     string
	err      error
	refreshN int
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, nil
}

func (f *fakeTokens) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshN++
	if f.err != nil {
		return f.err
	}
	f.access = f.next
	return nil
}

// Server accepting only the given token, records every request
type authServer struct {
	*httptest.Server

	mu     sync.Mutex
	valid  string
	auths  []string
	bodies []string
}

func newAuthServer(t *testing.T, valid string) *authServer {
	s := &authServer{valid: valid}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.auths = append(s.auths, r.Header.Get("Authorization"))
		s.bodies = append(s.bodies, string(body))
		valid := s.valid
		s.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+valid {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *authServer) recorded() (auths []string, bodies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...), append([]string(nil), s.bodies...)
}

func (s *authServer) hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auths)
}

func TestTransport_AttachToken(t *testing.T) {
	srv := newAuthServer(t, "a1")
	client := NewClient(nil, &fakeTokens{access: "a1"}, logger.NewNoOpLogger(), nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	require.Equal(t, http.StatusOK, resp.StatusCode)
	auths, _ := srv.recorded()
	require.Equal(t, []string{"Bearer a1"}, auths)
}

func TestTransport_NoToken(t *testing.T) {
	got := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Values("Authorization")
	}))
	defer srv.Close()
	client := NewClient(nil, &fakeTokens{}, logger.NewNoOpLogger(), nil)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer stale")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	require.Empty(t, <-got, "request without session must go unauthenticated")
	require.Equal(t, "Bearer stale", req.Header.Get("Authorization"), "original request must not be modified")
}

func TestTransport_RefreshAndResend(t *testing.T) {
	srv := newAuthServer(t, "a2")
	tokens := &fakeTokens{access: "a1", next: "a2"}
	m := metrics.New()
	client := NewClient(nil, tokens, logger.NewNoOpLogger(), m)

	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"nombre":"regla"}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode, "caller sees the resent result")
	require.JSONEq(t, `{"ok":true}`, string(body))
	require.Equal(t, 1, tokens.refreshN)
	auths, bodies := srv.recorded()
	require.Equal(t, []string{"Bearer a1", "Bearer a2"}, auths)
	require.Equal(t, []string{`{"nombre":"regla"}`, `{"nombre":"regla"}`}, bodies, "body must be replayed")
}

func TestTransport_SecondUnauthorizedIsTerminal(t *testing.T) {
	srv := newAuthServer(t, "never")
	tokens := &fakeTokens{access: "a1", next: "a2"}
	client := NewClient(nil, tokens, logger.NewNoOpLogger(), nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 2, srv.hits(), "request is sent at most twice")
	require.Equal(t, 1, tokens.refreshN, "refresh happens at most once")
}

func TestTransport_RefreshFailure(t *testing.T) {
	srv := newAuthServer(t, "a2")
	tokens := &fakeTokens{access: "a1", err: apperrors.ErrAuthFailed}
	client := NewClient(nil, tokens, logger.NewNoOpLogger(), nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "original 401 is surfaced")
	require.Contains(t, string(body), "Given token not valid")
	require.Equal(t, 1, srv.hits())
}

func TestTransport_NetworkErrorNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tokens := &fakeTokens{access: "a1", next: "a2"}
	client := NewClient(nil, tokens, logger.NewNoOpLogger(), nil)

	_, err := client.Get(url)

	require.Error(t, err)
	require.ErrorIs(t, err, apperrors.ErrNetwork)
	require.Equal(t, 0, tokens.refreshN, "network failure must not trigger refresh")
}

func TestTransport_OneShotBodyNotRetried(t *testing.T) {
	srv := newAuthServer(t, "a2")
	tokens := &fakeTokens{access: "a1", next: "a2"}
	client := NewClient(nil, tokens, logger.NewNoOpLogger(), nil)

	req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(bytes.NewBufferString("stream")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody, "opaque reader can't be rewound")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 0, tokens.refreshN)
}

type countingAPI struct {
	calls atomic.Int32
}

func (a *countingAPI) RefreshTokens(ctx context.Context, refresh string) (models.TokenPair, error) {
	a.calls.Add(1)
	time.Sleep(50 * time.Millisecond)
	if refresh != "r1" {
		return models.TokenPair{}, errors.New("unknown refresh token")
	}
	return models.TokenPair{Access: "a2", Refresh: "r2"}, nil
}

func (a *countingAPI) Logout(context.Context, models.TokenPair) error { return nil }

func TestTransport_ConcurrentUnauthorizedShareRefresh(t *testing.T) {
	srv := newAuthServer(t, "a2")
	api := &countingAPI{}
	ts, err := tokenstore.New(tokenstore.Config{}, api, memory.New(), logger.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	ts.SetTokens(t.Context(), models.TokenPair{Access: "a1", Refresh: "r1"})

	client := NewClient(nil, ts, logger.NewNoOpLogger(), nil)

	const requests = 5
	var wg sync.WaitGroup
	codes := make(chan int, requests)
	for range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err != nil {
				codes <- 0
				return
			}
			_ = resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		require.Equal(t, http.StatusOK, code)
	}
	require.EqualValues(t, 1, api.calls.Load(), "concurrent 401s must share one refresh")
}
