package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 30*time.Second, cfg.Authz.DecisionCacheTTL)
}

func TestLoadFile_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	yml := `
server:
  port: 9000
logging:
  level: debug
authz:
  decision_cache_ttl: 5s
daemons:
  max_retries: 5
  backoff_base: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("SIMULATION_MODE", "true")
	t.Setenv("LOTUS_TOKEN", "secret")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Authz.DecisionCacheTTL)
	assert.Equal(t, 5, cfg.Daemons.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Daemons.BackoffBase)
	assert.True(t, cfg.Daemons.Simulation)
	assert.Equal(t, "secret", cfg.Daemons.Lotus.Token)
}

func TestLoadFile_RedisAddrSwitchesBackend(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "localhost:6379", cfg.RateLimit.RedisAddr)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.Backend = "redis"
	assert.Error(t, cfg.Validate(), "redis backend requires an address")

	cfg = Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
