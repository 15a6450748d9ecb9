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
	assert.Equal(t, "autoprice.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "SHADOW", cfg.Enforcer.DefaultMode)
	assert.InDelta(t, 0.20, cfg.Enforcer.MaxDeltaRatio, 0.001)
	assert.Equal(t, int64(100000), cfg.Enforcer.MaxAbsoluteDelta)
	assert.Equal(t, int64(1000), cfg.Enforcer.MinPrice)
	assert.InDelta(t, 0.05, cfg.Autonomy.RiskMarginThreshold, 0.001)
	assert.InDelta(t, 0.97, cfg.Autonomy.DefaultConfidenceThreshold, 0.001)
	assert.Equal(t, 1, cfg.Autonomy.MaxUnfreezeTier)
	assert.Equal(t, 14, cfg.Autonomy.PromotionWindowDays)
	assert.Equal(t, 30, cfg.Autonomy.PromotionMinDecisions)
	assert.Equal(t, 10, cfg.Autonomy.DemotionMinDecisions)
	assert.Equal(t, 7, cfg.Tuning.WindowDays)
	assert.InDelta(t, 0.10, cfg.Tuning.MaxDeltaStep, 0.001)
	assert.Equal(t, 10, cfg.Market.TimeoutSecs)
	assert.Equal(t, 5, cfg.Market.Circuit.FailureThreshold)
	assert.Equal(t, "AUTO", cfg.Monitoring.EnforceMode)
	// viper lower-cases map keys.
	assert.Equal(t, "GROWTH", cfg.Strategy.StageDefaults["launch"])
	assert.Equal(t, "PROFIT_DEFENSE", cfg.Strategy.StageDefaults["decline"])
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/autoprice
log:
  level: debug
  format: console
server:
  port: 9090
autonomy:
  max_unfreeze_tier: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Autonomy.MaxUnfreezeTier)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Enforcer.BatchSize)
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

	t.Setenv("AUTOPRICE_STORE_DRIVER", "postgres")
	t.Setenv("AUTOPRICE_LOG_LEVEL", "warn")

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

	t.Setenv("AUTOPRICE_SERVER_PORT", "3000")
	t.Setenv("AUTOPRICE_ENFORCER_MAX_DELTA_RATIO", "0.3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 0.3, cfg.Enforcer.MaxDeltaRatio, 0.001)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "autoprice.db"
	cfg.Server.Port = 8080
	cfg.Enforcer.MaxDeltaRatio = 0.2
	cfg.Enforcer.MaxAbsoluteDelta = 100000
	cfg.Enforcer.MinPrice = 1000
	cfg.Autonomy.MaxUnfreezeTier = 1
	cfg.Autonomy.DefaultConfidenceThreshold = 0.97
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("engine"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""
	cfg.Autonomy.MaxUnfreezeTier = 4

	err := cfg.Validate("engine")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "max_unfreeze_tier")
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("engine"))
	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_Guardrails(t *testing.T) {
	cfg := validDefaults()
	cfg.Enforcer.MaxDeltaRatio = 0
	err := cfg.Validate("engine")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_delta_ratio")

	cfg = validDefaults()
	cfg.Autonomy.DefaultConfidenceThreshold = 1.5
	err = cfg.Validate("engine")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "default_confidence_threshold")
}
