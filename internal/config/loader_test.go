package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ResolvesEnvAndDefaults(t *testing.T) {
	os.Setenv("TEST_COSMO_DB_URL", "postgres://localhost/cosmo")
	os.Setenv("TEST_COSMO_API_KEY", "sk-test")
	defer os.Unsetenv("TEST_COSMO_DB_URL")
	defer os.Unsetenv("TEST_COSMO_API_KEY")

	cfg, err := Parse([]byte(`
server:
  port: 8080
database:
  url: os.environ/TEST_COSMO_DB_URL
provider:
  api_key: os.environ/TEST_COSMO_API_KEY
queue:
  max_retries: 5
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/cosmo", cfg.Database.URL)
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, 5, cfg.Queue.MaxRetries)

	// Defaults fill everything not set.
	assert.Equal(t, 600, cfg.Queue.TTLSeconds)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Batch.MinSize)
	assert.Equal(t, 30, cfg.Batch.WindowSeconds)
	assert.Equal(t, 2000, cfg.Scheduler.PassIntervalMs)
}

func TestParse_EnvironmentVariablesSection(t *testing.T) {
	defer os.Unsetenv("COSMO_TEST_EXPORTED")

	_, err := Parse([]byte(`
environment_variables:
  COSMO_TEST_EXPORTED: exported-value
`))
	require.NoError(t, err)
	assert.Equal(t, "exported-value", os.Getenv("COSMO_TEST_EXPORTED"))
}

func TestParse_UnknownFieldsIgnored(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9000
  color: purple
mystery_section:
  foo: bar
`))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Contains(t, cfg.Server.Overflow, "color")
	assert.Contains(t, cfg.Overflow, "mystery_section")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cosmo_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7001\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParse_RedisSettings(t *testing.T) {
	cfg, err := Parse([]byte(`
redis:
  addr: localhost:6379
  db: 2
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
}
