package apistub

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour
)

var (
	errTokenInvalid = errors.New("token is invalid or expired")
	errTokenRevoked = errors.New("token is blacklisted")
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"rol"`

	// Tokens of older generation are rejected, see TokenManager.RevokeAccess
	Generation int `json:"gen"`
}

type refreshRecord struct {
	userID    int64
	expiresAt time.Time
	revoked   bool
}

// Token manager config with sensible defaults
type TokenConfig struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// If not set than default is used
	Alg        string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenManager issues JWT access tokens and opaque refresh tokens
type TokenManager struct {
	key        string
	alg        jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu         sync.Mutex
	refresh    map[string]refreshRecord
	generation int
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	return &TokenManager{
		key:        cfg.SecretKey,
		alg:        jwt.GetSigningMethod(cfg.Alg),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		refresh:    make(map[string]refreshRecord),
	}, nil
}

// GeneratePair issues access and refresh tokens for the user
func (m *TokenManager) GeneratePair(u *User) (access string, refresh string, err error) {
	access, err = m.GenerateAccess(u)
	if err != nil {
		return "", "", err
	}

	// Generate random refresh token 16 bytes length
	b := make([]byte, 16)
	_, err = rand.Read(b)
	if err != nil {
		return "", "", fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	refresh = hex.EncodeToString(b)

	m.mu.Lock()
	m.refresh[refresh] = refreshRecord{userID: u.ID, expiresAt: time.Now().Add(m.refreshTTL)}
	m.mu.Unlock()

	return access, refresh, nil
}

func (m *TokenManager) GenerateAccess(u *User) (string, error) {
	now := time.Now().Truncate(time.Second)

	m.mu.Lock()
	generation := m.generation
	m.mu.Unlock()

	token := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   strconv.FormatInt(u.ID, 10),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			},
			Role:       u.Role,
			Generation: generation,
		},
	)
	access, err := token.SignedString([]byte(m.key))
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}
	return access, nil
}

// UseRefresh returns owner of a valid refresh token
func (m *TokenManager) UseRefresh(refresh string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.refresh[refresh]
	switch {
	case !ok, r.expiresAt.Before(time.Now()):
		return 0, errTokenInvalid
	case r.revoked:
		return 0, errTokenRevoked
	}
	return r.userID, nil
}

// Blacklist refresh token
func (m *TokenManager) RevokeRefresh(refresh string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.refresh[refresh]; ok {
		r.revoked = true
		m.refresh[refresh] = r
	}
}

// RevokeAccess makes every access token issued so far invalid
func (m *TokenManager) RevokeAccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (userID int64, err error) {
	claims := &AccessTokenClaims{}

	_, err = jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return 0, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	m.mu.Lock()
	generation := m.generation
	m.mu.Unlock()
	if claims.Generation != generation {
		return 0, errTokenRevoked
	}

	return strconv.ParseInt(claims.Subject, 10, 64)
}
