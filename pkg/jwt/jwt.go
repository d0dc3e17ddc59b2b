package jwt

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-auth/pkg/clock"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrWeakKey      = errors.New("signing key must be at least 32 bytes")
)

// RefreshTokenBytes is the amount of entropy in a refresh token.
const RefreshTokenBytes = 64

// Claims represents the access token claims
type Claims struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Roles       []string `json:"role,omitempty"`
	Permissions []string `json:"permission,omitempty"`
	jwt.RegisteredClaims
}

// Subject is the identity an access token is issued for
type Subject struct {
	ID       string
	FullName string
	Email    string
}

// RefreshToken is a freshly minted, not yet persisted refresh token
type RefreshToken struct {
	Token       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CreatedByIP string
}

// Config holds the token settings
type Config struct {
	SigningKey           []byte
	Issuer               string
	Audience             string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

// Manager signs access tokens and mints refresh tokens
type Manager struct {
	key                  []byte
	issuer               string
	audience             string
	accessTokenDuration  time.Duration
	refreshTokenDuration time.Duration
	clock                clock.Clock
}

// NewManager creates a new token manager. Signing is always HS256.
func NewManager(cfg Config, clk clock.Clock) (*Manager, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, ErrWeakKey
	}
	if cfg.AccessTokenDuration <= 0 || cfg.RefreshTokenDuration <= 0 {
		return nil, errors.New("token durations must be positive")
	}
	if clk == nil {
		clk = clock.System{}
	}

	return &Manager{
		key:                  cfg.SigningKey,
		issuer:               cfg.Issuer,
		audience:             cfg.Audience,
		accessTokenDuration:  cfg.AccessTokenDuration,
		refreshTokenDuration: cfg.RefreshTokenDuration,
		clock:                clk,
	}, nil
}

// CreateAccessToken signs an access token for sub issued at the current
// clock time
func (m *Manager) CreateAccessToken(sub Subject, roles, permissions []string) (string, time.Time, error) {
	return m.CreateAccessTokenAt(sub, roles, permissions, m.clock.Now())
}

// CreateAccessTokenAt signs an access token for sub issued at now. Permission
// claims are emitted only when permissions is non-empty.
func (m *Manager) CreateAccessTokenAt(sub Subject, roles, permissions []string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.accessTokenDuration)

	claims := &Claims{
		Name:  sub.FullName,
		Email: sub.Email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			ID:        uuid.New().String(),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	if len(permissions) > 0 {
		claims.Permissions = permissions
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, expiresAt, nil
}

// CreateRefreshToken mints an opaque refresh token. The result is not persisted.
func (m *Manager) CreateRefreshToken(createdByIP string) (*RefreshToken, error) {
	return m.CreateRefreshTokenAt(createdByIP, m.clock.Now())
}

// CreateRefreshTokenAt mints a refresh token created at now
func (m *Manager) CreateRefreshTokenAt(createdByIP string, now time.Time) (*RefreshToken, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &RefreshToken{
		Token:       base64.StdEncoding.EncodeToString(buf),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.refreshTokenDuration),
		CreatedByIP: createdByIP,
	}, nil
}

// ValidateAccessToken verifies signature, algorithm, issuer, audience and expiry
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// AccessTokenDuration returns the configured access token lifetime
func (m *Manager) AccessTokenDuration() time.Duration {
	return m.accessTokenDuration
}
