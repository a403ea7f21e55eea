// Package apistub runs an in-process fake of the NUAM HTTP API for tests
package apistub

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/nuamclient/internal/logger"
	"github.com/nkiryanov/nuamclient/internal/models"
)

const (
	PathLoginMFA     = "/api/login-mfa/"
	PathToken        = "/api/token/"
	PathTokenRefresh = "/api/token/refresh/"
	PathLogout       = "/api/logout/"
	PathProfile      = "/api/perfil/"
	PathAudit        = "/api/auditoria/"
	PathReportCalif  = "/api/reportes/calificaciones/"
	PathReportAudit  = "/api/reportes/auditoria/"
	PathRules        = "/api/reglas-negocio/"
	PathUpload       = "/api/certificados-upload/"
)

type Config struct {
	// Sign key of access tokens, fixed test key if not set
	SecretKey string

	// Access token lifetime, 15 minutes if not set
	AccessTTL time.Duration

	// Issue a new refresh token on every refresh and blacklist the used one
	RotateRefresh bool

	// Request log, discarded if not set
	Logger logger.Logger
}

// Registered user of the fake API
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Superuser    bool

	// Second factor code, empty disables MFA for the user
	MFACode string
}

func (u User) Profile() models.Profile {
	return models.Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        models.Role(u.Role),
		IsSuperuser: u.Superuser,
	}
}

// Uploaded file as the server received it
type ReceivedUpload struct {
	DocumentType string
	FileName     string
	ContentType  string
	Content      []byte
	Username     string
}

type failure struct {
	code  int
	times int
}

// Server is a running fake API, URL is its base address
type Server struct {
	*httptest.Server

	tokens        *TokenManager
	hasher        BcryptHasher
	rotateRefresh bool

	mu          sync.Mutex
	users       map[int64]User
	nextUserID  int64
	mfaSessions map[string]int64
	hits        map[string]int
	failures    map[string]failure
	journal     []Request

	audit        []models.AuditRecord
	califReport  models.CalificacionesReport
	auditReport  models.AuditReport
	rules        map[int64]*ruleState
	nextRuleID   int64
	uploads      []ReceivedUpload
	nextUploadID int64

	califs        map[string]*califState
	nextCalifID   int64
	registrations int
}

// Start runs the server until the test ends
func Start(t testing.TB, cfg Config) *Server {
	t.Helper()

	if cfg.SecretKey == "" {
		cfg.SecretKey = "apistub-secret-key"
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	tm, err := NewTokenManager(TokenConfig{SecretKey: cfg.SecretKey, AccessTTL: cfg.AccessTTL})
	require.NoError(t, err, "failed to create token manager")

	s := &Server{
		tokens:        tm,
		rotateRefresh: cfg.RotateRefresh,
		users:         make(map[int64]User),
		mfaSessions:   make(map[string]int64),
		hits:          make(map[string]int),
		failures:      make(map[string]failure),
		rules:         make(map[int64]*ruleState),
		califs:        make(map[string]*califState),
	}
	s.Server = httptest.NewServer(s.router(cfg.Logger.With("component", "apistub")))
	t.Cleanup(s.Close)

	return s
}

func (s *Server) router(l logger.Logger) http.Handler {
	withAuth := s.authMiddleware

	mux := http.NewServeMux()

	mux.HandleFunc("POST "+PathLoginMFA, s.handleLoginMFA)
	mux.HandleFunc("POST "+PathToken, s.handleObtainToken)
	mux.HandleFunc("POST "+PathTokenRefresh, s.handleRefresh)
	mux.Handle("POST "+PathLogout, withAuth(http.HandlerFunc(s.handleLogout)))

	mux.Handle("GET "+PathProfile, withAuth(http.HandlerFunc(s.handleProfile)))
	mux.Handle("GET "+PathAudit, withAuth(http.HandlerFunc(s.handleAudit)))

	reports := func(h http.HandlerFunc) http.Handler {
		return chain(h, withAuth, s.requireRole(string(models.RoleAuditor), string(models.RoleTI)))
	}
	mux.Handle("GET "+PathReportCalif, reports(s.handleCalificacionesReport))
	mux.Handle("GET "+PathReportAudit, reports(s.handleAuditReport))

	rules := func(h http.HandlerFunc) http.Handler {
		return chain(h, withAuth, s.requireRole(string(models.RoleTI)))
	}
	mux.Handle("GET "+PathRules, rules(s.handleListRules))
	mux.Handle("POST "+PathRules, rules(s.handleCreateRule))
	mux.Handle("GET "+PathRules+"{id}/", rules(s.handleGetRule))
	mux.Handle("PUT "+PathRules+"{id}/", rules(s.handleUpdateRule))
	mux.Handle("DELETE "+PathRules+"{id}/", rules(s.handleDeleteRule))
	mux.Handle("GET "+PathRules+"{id}/historial/", rules(s.handleRuleHistory))
	mux.Handle("POST "+PathRules+"{id}/rollback/", rules(s.handleRollbackRule))
	mux.Handle("GET "+PathRules+"{id}/comparar/", rules(s.handleCompareRule))

	s.califRoutes(mux, withAuth)

	mux.Handle("POST "+PathUpload, chain(
		http.HandlerFunc(s.handleUpload),
		withAuth,
		s.requireRole(string(models.RoleCorredor), string(models.RoleTI)),
	))

	return chain(mux,
		s.journalMiddleware(l),
		s.trackMiddleware,
	)
}

// AddUser registers a user, mfaCode enables the second factor
func (s *Server) AddUser(t testing.TB, username, password, role, mfaCode string, superuser bool) User {
	t.Helper()

	hash, err := s.hasher.Hash(password)
	require.NoError(t, err, "failed to hash password")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	u := User{
		ID:           s.nextUserID,
		Username:     username,
		Email:        username + "@nuam.test",
		PasswordHash: hash,
		Role:         role,
		Superuser:    superuser,
		MFACode:      mfaCode,
	}
	s.users[u.ID] = u
	return u
}

// RevokeAccessTokens makes every issued access token rejected with 401
// Refresh tokens keep working
func (s *Server) RevokeAccessTokens() {
	s.tokens.RevokeAccess()
}

// IssueTokens returns a valid pair for the user without login
func (s *Server) IssueTokens(t testing.TB, u User) models.TokenPair {
	t.Helper()

	access, refresh, err := s.tokens.GeneratePair(&u)
	require.NoError(t, err)
	return models.TokenPair{Access: access, Refresh: refresh}
}

// Fail answers the next n requests to path with code
func (s *Server) Fail(path string, code int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[path] = failure{code: code, times: n}
}

// Requests returns served requests in arrival order
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.journal)
}

// Hits returns number of requests to path, injected failures included
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[path]
}

func (s *Server) SetAudit(records ...models.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = slices.Clone(records)
}

func (s *Server) SetCalificacionesReport(r models.CalificacionesReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.califReport = r
}

func (s *Server) SetAuditReport(r models.AuditReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditReport = r
}

func (s *Server) Uploads() []ReceivedUpload {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.uploads)
}

// Rule returns current state of the rule
func (s *Server) Rule(id int64) (models.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.rules[id]
	if !ok {
		return models.Rule{}, false
	}
	return st.rule, true
}

func (s *Server) hit(path string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits[path]++

	f, ok := s.failures[path]
	if !ok {
		return 0, false
	}
	f.times--
	if f.times <= 0 {
		delete(s.failures, path)
	} else {
		s.failures[path] = f
	}
	return f.code, true
}

func (s *Server) user(id int64) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	return u, ok
}

func (s *Server) userByName(username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}

func toRoles(roles []string) []models.Role {
	out := make([]models.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, models.Role(r))
	}
	return out
}
