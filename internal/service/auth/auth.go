package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nkiryanov/nuamclient/internal/apperrors"
	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
	"github.com/nkiryanov/nuamclient/internal/service/validate"
	"github.com/nkiryanov/nuamclient/internal/storage"
)

// Server keeps MFA session a few minutes, no sense to keep it longer
const defaultMFASessionTTL = 5 * time.Minute

type loginAPI interface {
	Login(ctx context.Context, username, password string) (models.LoginResult, error)
	VerifyMFA(ctx context.Context, sessionID, code string) (models.LoginResult, error)
	Register(ctx context.Context, in models.Registration) (models.RegistrationResult, error)
}

type profileAPI interface {
	Profile(ctx context.Context) (models.Profile, error)
}

type tokenStore interface {
	SetTokens(ctx context.Context, pair models.TokenPair)
	AccessToken(ctx context.Context) (string, error)
	Logout(ctx context.Context)
}

type Config struct {
	// If not set than default is used
	MFASessionTTL time.Duration
}

// Outcome of a login step
type Session struct {
	// Second factor is required, call CompleteMFA with the code
	MFARequired bool

	Profile models.Profile

	// Landing route of the role dashboard
	HomePath string
}

// Auth service
type Service struct {
	api      loginAPI
	profiles profileAPI
	tokens   tokenStore
	store    storage.Store
	logger   logger.Logger

	mfaSessionTTL time.Duration
}

func NewService(cfg Config, api loginAPI, profiles profileAPI, tokens tokenStore, st storage.Store, l logger.Logger) (*Service, error) {
	if api == nil || profiles == nil || tokens == nil || st == nil {
		return nil, errors.New("auth service dependencies must not be nil")
	}
	if cfg.MFASessionTTL <= 0 {
		cfg.MFASessionTTL = defaultMFASessionTTL
	}

	return &Service{
		api:           api,
		profiles:      profiles,
		tokens:        tokens,
		store:         st,
		logger:        l.With("component", "service.auth"),
		mfaSessionTTL: cfg.MFASessionTTL,
	}, nil
}

// Login with username and password
// If the account has second factor enabled, the pending session is saved and MFARequired is returned
func (s *Service) Login(ctx context.Context, username string, password string) (Session, error) {
	err := validate.Fields(
		map[string]string{"username": username, "password": password},
		map[string]validate.Func{"username": validate.NotEmpty, "password": validate.NotEmpty},
	)
	if err != nil {
		return Session{}, err
	}

	res, err := s.api.Login(ctx, username, password)
	if err != nil {
		return Session{}, err
	}

	if res.MFARequired {
		err := s.store.Set(ctx, storage.KeyMFASession, res.SessionID, s.mfaSessionTTL)
		if err != nil {
			return Session{}, fmt.Errorf("failed to save mfa session: %w", err)
		}
		s.logger.Info("Second factor required", "username", username)
		return Session{MFARequired: true}, nil
	}

	return s.establish(ctx, res)
}

// CompleteMFA sends the code for the pending login
// Wrong code keeps the pending session so the user can try again
func (s *Service) CompleteMFA(ctx context.Context, code string) (Session, error) {
	if err := validate.Fields(map[string]string{"codigo": code}, map[string]validate.Func{"codigo": validate.MFACode}); err != nil {
		return Session{}, err
	}

	sessionID, err := s.store.Get(ctx, storage.KeyMFASession)
	if errors.Is(err, apperrors.ErrKeyNotFound) {
		return Session{}, fmt.Errorf("no login waits for the code: %w", apperrors.ErrNoSession)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to read mfa session: %w", err)
	}

	res, err := s.api.VerifyMFA(ctx, sessionID, code)
	if err != nil {
		return Session{}, err
	}

	s.clearMFASession(ctx)
	return s.establish(ctx, res)
}

func (s *Service) establish(ctx context.Context, res models.LoginResult) (Session, error) {
	s.tokens.SetTokens(ctx, res.Tokens())

	profile, err := s.profiles.Profile(ctx)
	if err != nil {
		if res.User == nil {
			return Session{}, fmt.Errorf("logged in, but failed to fetch profile: %w", err)
		}
		s.logger.Warn("Failed to fetch profile, using login answer", "error", err)
		profile = models.Profile{ID: res.User.ID, Username: res.User.Username, Role: res.User.Role}
	}

	s.logger.Info("Logged in", "username", profile.Username, "role", profile.EffectiveRole())
	return Session{
		Profile:  profile,
		HomePath: profile.EffectiveRole().HomePath(),
	}, nil
}

// Register creates an account, it does not start a session
func (s *Service) Register(ctx context.Context, in models.Registration) (models.RegistrationResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Role = models.Role(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	if err := validate.Struct(in); err != nil {
		return models.RegistrationResult{}, err
	}

	res, err := s.api.Register(ctx, in)
	if err != nil {
		return models.RegistrationResult{}, err
	}

	s.logger.Info("User registered", "username", in.Username, "role", in.Role)
	return res, nil
}

// Logout drops the session locally and on the server
func (s *Service) Logout(ctx context.Context) {
	s.tokens.Logout(ctx)
	s.clearMFASession(ctx)
}

// Whoami returns the profile of the current session
func (s *Service) Whoami(ctx context.Context) (models.Profile, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	if token == "" {
		return models.Profile{}, apperrors.ErrNoSession
	}

	return s.profiles.Profile(ctx)
}

// Authorize returns the profile if it may use a feature open to roles
func (s *Service) Authorize(ctx context.Context, roles ...models.Role) (models.Profile, error) {
	profile, err := s.Whoami(ctx)
	if err != nil {
		return models.Profile{}, err
	}

	if !profile.Allowed(roles...) {
		return profile, fmt.Errorf("role %q: %w", profile.EffectiveRole(), apperrors.ErrForbiddenRole)
	}
	return profile, nil
}

func (s *Service) clearMFASession(ctx context.Context) {
	if err := s.store.Delete(ctx, storage.KeyMFASession); err != nil {
		s.logger.Warn("Failed to clear mfa session", "error", err)
	}
}
