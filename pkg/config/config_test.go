package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port     int    `env:"TEST_CFG_PORT" envDefault:"8080"`
	Host     string `env:"TEST_CFG_HOST" envDefault:"localhost"`
	LogLevel string `env:"TEST_CFG_LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"TEST_CFG_DEBUG" envDefault:"false"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	err := Load(&cfg)

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_HOST", "0.0.0.0")
	t.Setenv("TEST_CFG_LOG_LEVEL", "debug")
	t.Setenv("TEST_CFG_DEBUG", "true")

	var cfg testConfig
	err := Load(&cfg)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Debug)
}

type requiredConfig struct {
	APIKey string `env:"TEST_CFG_API_KEY,required"`
}

func TestLoad_RequiredFieldMissing(t *testing.T) {
	var cfg requiredConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_RequiredFieldPresent(t *testing.T) {
	t.Setenv("TEST_CFG_API_KEY", "secret-123")

	var cfg requiredConfig
	err := Load(&cfg)

	require.NoError(t, err)
	assert.Equal(t, "secret-123", cfg.APIKey)
}

func TestLoad_InvalidType(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "not-a-number")

	var cfg testConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadDotEnv_SkippedOutsideLocal(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))

	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestLoadDotEnv_LocalReadsFile(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("TEST_CFG_HOST", "")
	os.Unsetenv("TEST_CFG_HOST")

	path := filepath.Join(t.TempDir(), ".env.local")
	require.NoError(t, os.WriteFile(path, []byte("TEST_CFG_HOST=db.local\n"), 0o600))

	loaded, err := LoadDotEnv(path)
	require.NoError(t, err)
	assert.True(t, loaded)

	var cfg testConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, "db.local", cfg.Host)
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")
	t.Setenv("TEST_CFG_PORT", "7000")

	path := filepath.Join(t.TempDir(), ".env.local")
	require.NoError(t, os.WriteFile(path, []byte("TEST_CFG_PORT=7100\n"), 0o600))

	_, err := LoadDotEnv(path)
	require.NoError(t, err)

	var cfg testConfig
	require.NoError(t, Load(&cfg))
	assert.Equal(t, 7000, cfg.Port)
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("ENVIRONMENT", "local")

	loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"))

	require.NoError(t, err)
	assert.False(t, loaded)
}
