package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
)

func newTestAuthClient(t *testing.T, handler http.HandlerFunc) *AuthClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewAuthClient(Config{BaseURL: srv.URL}, srv.Client(), logger.NewNoOpLogger())
	require.NoError(t, err)
	return c
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNewAuthClient(t *testing.T) {
	_, err := NewAuthClient(Config{}, nil, logger.NewNoOpLogger())
	require.Error(t, err)

	_, err = NewAuthClient(Config{BaseURL: "not a url"}, nil, logger.NewNoOpLogger())
	require.Error(t, err)
}

func TestAuthClient_Login(t *testing.T) {
	t.Run("tokens without second factor", func(t *testing.T) {
		var got map[string]any
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/login-mfa/", r.URL.Path)
			got = decodeBody(t, r)
			_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1","usuario":{"id":7,"username":"ana","rol":"AUDITOR"}}`))
		})

		res, err := c.Login(t.Context(), "ana", "Secreto123")

		require.NoError(t, err)
		require.Equal(t, map[string]any{"step": float64(1), "username": "ana", "password": "Secreto123"}, got)
		require.False(t, res.MFARequired)
		require.Equal(t, models.TokenPair{Access: "a1", Refresh: "r1"}, res.Tokens())
		require.Equal(t, models.RoleAuditor, res.User.Role)
	})

	t.Run("second factor required", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"mfa_requerido":true,"session_id":"s-1"}`))
		})

		res, err := c.Login(t.Context(), "ana", "Secreto123")

		require.NoError(t, err)
		require.True(t, res.MFARequired)
		require.Equal(t, "s-1", res.SessionID)
		require.True(t, res.Tokens().IsZero())
	})

	t.Run("bad credentials", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"No active account found"}`))
		})

		_, err := c.Login(t.Context(), "ana", "bad")

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, CodeAuthFailed, apiErr.Code)
		require.Equal(t, MessageBadCredentials, apiErr.Message)
		require.ErrorIs(t, err, apperrors.ErrAuthFailed)
	})

	t.Run("server detail is shown", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"detail":"Usuario bloqueado"}`))
		})

		_, err := c.Login(t.Context(), "ana", "Secreto123")

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, CodeServerRejected, apiErr.Code)
		require.Equal(t, "Usuario bloqueado", apiErr.Message)
	})

	t.Run("rejection without detail", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := c.Login(t.Context(), "ana", "Secreto123")

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, MessageConnection, apiErr.Message)
		require.ErrorIs(t, err, apperrors.ErrServerRejected)
	})

	t.Run("empty answer", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		})

		_, err := c.Login(t.Context(), "ana", "Secreto123")

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, CodeInvalidResponse, apiErr.Code)
	})
}

func TestAuthClient_VerifyMFA(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var got map[string]any
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			got = decodeBody(t, r)
			_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1","usuario":{"rol":"TI"}}`))
		})

		res, err := c.VerifyMFA(t.Context(), "s-1", "123456")

		require.NoError(t, err)
		require.Equal(t, map[string]any{"step": float64(2), "session_id": "s-1", "codigo": "123456"}, got)
		require.Equal(t, "a1", res.Access)
	})

	t.Run("invalid code", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := c.VerifyMFA(t.Context(), "s-1", "000000")

		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, MessageInvalidMFACode, apiErr.Message)
		require.ErrorIs(t, err, apperrors.ErrInvalidMFACode)
	})
}

func TestAuthClient_RefreshTokens(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/token/refresh/", r.URL.Path)
			require.Empty(t, r.Header.Get("Authorization"))
			require.Equal(t, map[string]any{"refresh": "r1"}, decodeBody(t, r))
			_, _ = w.Write([]byte(`{"access":"a2"}`))
		})

		pair, err := c.RefreshTokens(t.Context(), "r1")

		require.NoError(t, err)
		require.Equal(t, models.TokenPair{Access: "a2"}, pair)
	})

	t.Run("expired refresh", func(t *testing.T) {
		c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Token is invalid or expired","code":"token_not_valid"}`))
		})

		_, err := c.RefreshTokens(t.Context(), "r1")

		require.ErrorIs(t, err, apperrors.ErrAuthFailed)
	})
}

func TestAuthClient_ObtainToken(t *testing.T) {
	c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token/", r.URL.Path)
		require.Equal(t, map[string]any{"username": "ana", "password": "Secreto123"}, decodeBody(t, r))
		_, _ = w.Write([]byte(`{"access":"a1","refresh":"r1"}`))
	})

	pair, err := c.ObtainToken(t.Context(), "ana", "Secreto123")

	require.NoError(t, err)
	require.Equal(t, models.TokenPair{Access: "a1", Refresh: "r1"}, pair)
}

func TestAuthClient_Logout(t *testing.T) {
	var auth string
	var body map[string]any
	c := newTestAuthClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/logout/", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body = decodeBody(t, r)
		w.WriteHeader(http.StatusResetContent)
	})

	err := c.Logout(t.Context(), models.TokenPair{Access: "a1", Refresh: "r1"})

	require.NoError(t, err)
	require.Equal(t, "Bearer a1", auth)
	require.Equal(t, map[string]any{"refresh": "r1"}, body)
}
