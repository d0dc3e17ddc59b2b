package jwt

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-plt-auth/pkg/clock"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	return Config{
		SigningKey:           testKey,
		Issuer:               "pesio-auth",
		Audience:             "pesio-api",
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
	}
}

func setupTestManager(t *testing.T) (*Manager, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Now().UTC().Truncate(time.Second))
	manager, err := NewManager(testConfig(), clk)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	return manager, clk
}

func TestNewManagerInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty key", mutate: func(c *Config) { c.SigningKey = nil }},
		{name: "short key", mutate: func(c *Config) { c.SigningKey = []byte("too-short") }},
		{name: "zero access duration", mutate: func(c *Config) { c.AccessTokenDuration = 0 }},
		{name: "negative refresh duration", mutate: func(c *Config) { c.RefreshTokenDuration = -time.Hour }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewManager(cfg, nil); err == nil {
				t.Error("NewManager() expected error, got nil")
			}
		})
	}
}

func TestCreateAccessToken(t *testing.T) {
	manager, clk := setupTestManager(t)
	sub := Subject{ID: "user-123", FullName: "Ada Lovelace", Email: "ada@example.com"}

	token, expiresAt, err := manager.CreateAccessToken(sub, []string{"Admin", "Auditor"}, []string{"assets.read", "assets.write"})
	if err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}
	if want := clk.Now().Add(15 * time.Minute); !expiresAt.Equal(want) {
		t.Errorf("CreateAccessToken() expiresAt = %v, want %v", expiresAt, want)
	}

	claims, err := manager.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != sub.ID {
		t.Errorf("Subject = %v, want %v", claims.Subject, sub.ID)
	}
	if claims.Name != sub.FullName {
		t.Errorf("Name = %v, want %v", claims.Name, sub.FullName)
	}
	if claims.Email != sub.Email {
		t.Errorf("Email = %v, want %v", claims.Email, sub.Email)
	}
	if strings.Join(claims.Roles, ",") != "Admin,Auditor" {
		t.Errorf("Roles = %v", claims.Roles)
	}
	if strings.Join(claims.Permissions, ",") != "assets.read,assets.write" {
		t.Errorf("Permissions = %v", claims.Permissions)
	}
	if !claims.ExpiresAt.Time.Equal(expiresAt) {
		t.Errorf("exp claim = %v, want %v", claims.ExpiresAt.Time, expiresAt)
	}
}

func TestTokenClaimsComplete(t *testing.T) {
	manager, _ := setupTestManager(t)

	token, _, err := manager.CreateAccessToken(Subject{ID: "user-123"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	claims, err := manager.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.ID == "" {
		t.Error("Claims.ID (JTI) is empty")
	}
	if claims.Issuer != "pesio-auth" {
		t.Errorf("Claims.Issuer = %v, want pesio-auth", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "pesio-api" {
		t.Errorf("Claims.Audience = %v, want [pesio-api]", claims.Audience)
	}
	if claims.IssuedAt == nil || claims.NotBefore == nil || claims.ExpiresAt == nil {
		t.Error("time claims must all be set")
	}
}

func TestPermissionClaimOmittedWhenEmpty(t *testing.T) {
	manager, _ := setupTestManager(t)

	for name, perms := range map[string][]string{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			token, _, err := manager.CreateAccessToken(Subject{ID: "user-123"}, []string{"Viewer"}, perms)
			if err != nil {
				t.Fatalf("CreateAccessToken() error = %v", err)
			}

			payload, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
			if err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if strings.Contains(string(payload), `"permission"`) {
				t.Errorf("payload carries permission claim: %s", payload)
			}
			if !strings.Contains(string(payload), `"role":["Viewer"]`) {
				t.Errorf("payload missing role claim: %s", payload)
			}
		})
	}
}

func TestValidateInvalidToken(t *testing.T) {
	manager, _ := setupTestManager(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "malformed token", token: "not.a.valid.token"},
		{name: "random string", token: "random-string-not-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.ValidateAccessToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	manager, clk := setupTestManager(t)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-123",
		Issuer:    "pesio-auth",
		Audience:  jwt.ClaimStrings{"pesio-api"},
		ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Minute)),
	}}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, token := range map[string]string{"HS512": hs512, "none": none} {
		t.Run(name, func(t *testing.T) {
			if _, err := manager.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestValidateWrongKeyOrAudience(t *testing.T) {
	manager, clk := setupTestManager(t)

	otherKey := testConfig()
	otherKey.SigningKey = []byte("ffffffffffffffffffffffffffffffff")
	forger, _ := NewManager(otherKey, clk)
	forged, _, _ := forger.CreateAccessToken(Subject{ID: "user-123"}, nil, nil)
	if _, err := manager.ValidateAccessToken(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged token error = %v, want ErrInvalidToken", err)
	}

	otherAud := testConfig()
	otherAud.Audience = "someone-else"
	foreign, _ := NewManager(otherAud, clk)
	token, _, _ := foreign.CreateAccessToken(Subject{ID: "user-123"}, nil, nil)
	if _, err := manager.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign audience error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	manager, clk := setupTestManager(t)

	token, _, err := manager.CreateAccessToken(Subject{ID: "user-123"}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	clk.Advance(16 * time.Minute)

	if _, err := manager.ValidateAccessToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ValidateAccessToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestCreateRefreshToken(t *testing.T) {
	manager, clk := setupTestManager(t)

	rt, err := manager.CreateRefreshToken("10.0.0.1")
	if err != nil {
		t.Fatalf("CreateRefreshToken() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(rt.Token)
	if err != nil {
		t.Fatalf("refresh token is not base64: %v", err)
	}
	if len(raw) < RefreshTokenBytes {
		t.Errorf("refresh token entropy = %d bytes, want >= %d", len(raw), RefreshTokenBytes)
	}
	if want := clk.Now().Add(7 * 24 * time.Hour); !rt.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", rt.ExpiresAt, want)
	}
	if !rt.CreatedAt.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v, want %v", rt.CreatedAt, clk.Now())
	}
	if rt.CreatedByIP != "10.0.0.1" {
		t.Errorf("CreatedByIP = %q", rt.CreatedByIP)
	}
}

func TestCreateTokensAtExplicitTime(t *testing.T) {
	manager, clk := setupTestManager(t)
	issuedAt := clk.Now().Add(-time.Minute)
	clk.Advance(30 * time.Second)

	token, expiresAt, err := manager.CreateAccessTokenAt(Subject{ID: "user-123"}, nil, nil, issuedAt)
	if err != nil {
		t.Fatalf("CreateAccessTokenAt() error = %v", err)
	}
	if want := issuedAt.Add(15 * time.Minute); !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}

	claims, err := manager.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if !claims.IssuedAt.Time.Equal(issuedAt) {
		t.Errorf("iat = %v, want %v", claims.IssuedAt.Time, issuedAt)
	}

	rt, err := manager.CreateRefreshTokenAt("", issuedAt)
	if err != nil {
		t.Fatalf("CreateRefreshTokenAt() error = %v", err)
	}
	if !rt.CreatedAt.Equal(issuedAt) {
		t.Errorf("CreatedAt = %v, want %v", rt.CreatedAt, issuedAt)
	}
	if want := issuedAt.Add(7 * 24 * time.Hour); !rt.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", rt.ExpiresAt, want)
	}
}

func TestTokensUniqueness(t *testing.T) {
	manager, _ := setupTestManager(t)
	sub := Subject{ID: "user-123", Email: "test@example.com"}

	access1, _, _ := manager.CreateAccessToken(sub, nil, nil)
	access2, _, _ := manager.CreateAccessToken(sub, nil, nil)
	if access1 == access2 {
		t.Error("Generated identical access tokens (should be unique)")
	}

	refresh1, _ := manager.CreateRefreshToken("")
	refresh2, _ := manager.CreateRefreshToken("")
	if refresh1.Token == refresh2.Token {
		t.Error("Generated identical refresh tokens (should be unique)")
	}
}

func BenchmarkCreateAccessToken(b *testing.B) {
	manager, _ := NewManager(testConfig(), nil)
	sub := Subject{ID: "user-123", FullName: "Bench", Email: "test@example.com"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = manager.CreateAccessToken(sub, []string{"Admin"}, []string{"assets.read"})
	}
}

func BenchmarkValidateAccessToken(b *testing.B) {
	manager, _ := NewManager(testConfig(), nil)
	token, _, _ := manager.CreateAccessToken(Subject{ID: "user-123"}, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = manager.ValidateAccessToken(token)
	}
}
