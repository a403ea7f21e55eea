package api

import (
	"context"
	"net/http"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
)

const (
	pathLoginMFA     = "/api/login-mfa/"
	pathToken        = "/api/token/"
	pathTokenRefresh = "/api/token/refresh/"
	pathLogout       = "/api/logout/"
	pathRegister     = "/api/registro/"
)

// AuthClient calls token endpoints
// It never attaches stored tokens itself, so it is safe to use from the token store
type AuthClient struct {
	base
}

func NewAuthClient(cfg Config, client *http.Client, l logger.Logger) (*AuthClient, error) {
	b, err := newBase(cfg, client, l.With("component", "api.auth"))
	if err != nil {
		return nil, err
	}
	return &AuthClient{base: b}, nil
}

type loginStep1 struct {
	Step     int    `json:"step"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginStep2 struct {
	Step      int    `json:"step"`
	SessionID string `json:"session_id"`
	Code      string `json:"codigo"`
}

// Login sends credentials (first step)
// Result either carries tokens or asks for the second factor with a session id
func (c *AuthClient) Login(ctx context.Context, username, password string) (models.LoginResult, error) {
	var res models.LoginResult
	err := c.do(ctx, call{
		method:              http.MethodPost,
		path:                pathLoginMFA,
		body:                loginStep1{Step: 1, Username: username, Password: password},
		unauthorizedMessage: MessageBadCredentials,
		rejectedMessage:     MessageConnection,
	}, &res)
	if err != nil {
		return models.LoginResult{}, err
	}

	if !res.MFARequired && res.Access == "" {
		return models.LoginResult{}, NewError(CodeInvalidResponse, http.StatusOK, MessageInvalidResponse, apperrors.ErrAuthFailed)
	}
	return res, nil
}

// VerifyMFA sends the one-time code (second step)
func (c *AuthClient) VerifyMFA(ctx context.Context, sessionID, code string) (models.LoginResult, error) {
	var res models.LoginResult
	err := c.do(ctx, call{
		method:              http.MethodPost,
		path:                pathLoginMFA,
		body:                loginStep2{Step: 2, SessionID: sessionID, Code: code},
		unauthorizedMessage: MessageInvalidMFACode,
		unauthorizedErr:     apperrors.ErrInvalidMFACode,
		rejectedMessage:     MessageConnection,
	}, &res)
	if err != nil {
		return models.LoginResult{}, err
	}

	if res.Access == "" {
		return models.LoginResult{}, NewError(CodeInvalidResponse, http.StatusOK, MessageInvalidResponse, apperrors.ErrAuthFailed)
	}
	return res, nil
}

// ObtainToken is the plain username/password login without second factor
func (c *AuthClient) ObtainToken(ctx context.Context, username, password string) (models.TokenPair, error) {
	var pair models.TokenPair
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   pathToken,
		body: map[string]string{
			"username": username,
			"password": password,
		},
		unauthorizedMessage: MessageBadCredentials,
	}, &pair)
	return pair, err
}

// RefreshTokens exchanges refresh token for a new pair
// Refresh in the result is empty if the server does not rotate it
func (c *AuthClient) RefreshTokens(ctx context.Context, refresh string) (models.TokenPair, error) {
	var pair models.TokenPair
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   pathTokenRefresh,
		body:   map[string]string{"refresh": refresh},
	}, &pair)
	if err != nil {
		return models.TokenPair{}, err
	}

	if pair.Access == "" {
		return models.TokenPair{}, NewError(CodeInvalidResponse, http.StatusOK, MessageInvalidResponse, apperrors.ErrAuthFailed)
	}
	return pair, nil
}

// Logout blacklists refresh token on the server
func (c *AuthClient) Logout(ctx context.Context, pair models.TokenPair) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+pair.Access)

	return c.do(ctx, call{
		method: http.MethodPost,
		path:   pathLogout,
		body:   map[string]string{"refresh": pair.Refresh},
		header: header,
	}, nil)
}

// Register creates an account, the user logs in afterwards
func (c *AuthClient) Register(ctx context.Context, in models.Registration) (models.RegistrationResult, error) {
	var res models.RegistrationResult
	err := c.do(ctx, call{
		method:          http.MethodPost,
		path:            pathRegister,
		body:            in,
		rejectedMessage: "Error al registrar usuario",
	}, &res)
	return res, err
}
