package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "demon-engine.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 2048, cfg.Engine.MaxTokens)
	assert.Equal(t, 2, cfg.Engine.MaxFailovers)
	assert.Equal(t, 3, cfg.Engine.BreakerThreshold)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Models["fast"])
	assert.Equal(t, "claude-opus-4-6", cfg.Anthropic.Models["deep"])
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Models["fast"])
	assert.Equal(t, int64(1), cfg.Pricing.PerTechnique)
	assert.Equal(t, 2000, cfg.Pricing.InputChunkSize)
	assert.InDelta(t, 0.20, cfg.Pricing.AdjustThreshold, 0.001)
	assert.InDelta(t, 1.5, cfg.Pricing.ModeMultiplier["pro"], 0.001)
	assert.InDelta(t, 5.0, cfg.RateLimit.PerSecond, 0.001)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/demon
log:
  level: debug
  format: console
server:
  port: 9090
engine:
  max_failovers: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Engine.MaxFailovers)
	// Defaults still apply for unset values
	assert.Equal(t, 2048, cfg.Engine.MaxTokens)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DEMON_STORE_DRIVER", "postgres")
	t.Setenv("DEMON_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DEMON_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validServe returns a Config that passes serve validation.
func validServe() *Config {
	return &Config{
		Store:     StoreConfig{Driver: "sqlite", SQLitePath: "test.db"},
		Server:    ServerConfig{Port: 8080},
		Anthropic: AnthropicConfig{Key: "sk-ant-key"},
		Pricing:   PricingConfig{AdjustThreshold: 0.2},
		RateLimit: RateLimitConfig{PerSecond: 5, Burst: 10},
	}
}

func TestValidateServe_AllPresent(t *testing.T) {
	assert.NoError(t, validServe().Validate("serve"))
}

func TestValidateServe_MissingProviderKey(t *testing.T) {
	cfg := validServe()
	cfg.Anthropic.Key = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "provider key")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validServe()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateStoreDrivers(t *testing.T) {
	cfg := validServe()
	cfg.Store = StoreConfig{Driver: "postgres"}

	err := cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/demon"
	assert.NoError(t, cfg.Validate("migrate"))

	cfg.Store = StoreConfig{Driver: "mysql"}
	err = cfg.Validate("migrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateAdjustThresholdBounds(t *testing.T) {
	cfg := validServe()

	cfg.Pricing.AdjustThreshold = 1.5
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "adjust_threshold")

	cfg.Pricing.AdjustThreshold = 0.2
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validServe().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
