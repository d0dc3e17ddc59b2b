package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaultsWithEnvKey(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", testKey)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenDuration)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	yaml := `
service:
  name: auth-file
  grpc_port: 7000
store:
  driver: memory
jwt:
  signing_key: ` + testKey + `
  issuer: file-issuer
  access_token_minutes: 30
  refresh_token_days: 14
lockout:
  threshold: 3
  minutes: 20
audit:
  redis_url: redis://localhost:6379/0
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("LOCKOUT_THRESHOLD", "7")
	t.Setenv("JWT_ISSUER", "env-issuer")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "auth-file", cfg.ServiceName)
	assert.Equal(t, 7000, cfg.GRPCPort)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, "env-issuer", cfg.JWTIssuer)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenDuration)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTokenDuration)
	assert.Equal(t, 7, cfg.LockoutThreshold)
	assert.Equal(t, 20*time.Minute, cfg.LockoutDuration)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing signing key", env: map[string]string{}},
		{name: "short signing key", env: map[string]string{"JWT_SIGNING_KEY": "short"}},
		{name: "unknown store", env: map[string]string{"JWT_SIGNING_KEY": testKey, "STORE_DRIVER": "mongo"}},
		{name: "zero lockout threshold", env: map[string]string{"JWT_SIGNING_KEY": testKey, "LOCKOUT_THRESHOLD": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SIGNING_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestValidateRejectsUnverifiableArgon2Cost(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", testKey)
	cfg, err := Load("")
	require.NoError(t, err)

	tooMuchMemory := cfg
	tooMuchMemory.Argon2Memory = 4 * 1024 * 1024
	assert.Error(t, tooMuchMemory.Validate())

	tooManyPasses := cfg
	tooManyPasses.Argon2Iterations = 1000
	assert.Error(t, tooManyPasses.Validate())

	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: [unterminated"), 0o600))
	t.Setenv("JWT_SIGNING_KEY", testKey)

	_, err := Load(path)
	assert.Error(t, err)
}
