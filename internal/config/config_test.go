package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found.
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Providers.TimeoutSecs)
	assert.Equal(t, 5*time.Second, cfg.Providers.ProviderTimeout())
	assert.Equal(t, "https://registry.gridops.example.com/v2", cfg.Providers.GridOp.BaseURL)
	assert.InDelta(t, 10.0, cfg.Providers.GridOp.RPS, 0.001)
	assert.InDelta(t, 5.0, cfg.Providers.Regulator.RPS, 0.001)
	assert.Equal(t, 5, cfg.Resolver.AgreementBoost)
	assert.Equal(t, 10, cfg.Resolver.ConflictPenalty)
	assert.Equal(t, 20, cfg.Resolver.FallbackPenalty)
	assert.Equal(t, 80, cfg.Resolver.MinNeighborConfidence)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MemoryTTLCap)
	assert.Equal(t, 5*time.Minute, cfg.Cache.FailureTTL)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 10, cfg.Bulk.BatchSize)
	assert.Equal(t, 10, cfg.Bulk.Concurrency)
	assert.Equal(t, time.Second, cfg.Bulk.BatchDelay)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: sqlite
  database_url: territory.db
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins:
    - https://www.example.com
region:
  - lo: 75000
    hi: 79999
providers:
  timeout_secs: 3
  coverage_table: coverage.yaml
  grid_operator:
    base_url: http://localhost:8001
    rps: 2
  regulator:
    base_url: http://localhost:8002
    api_key: secret
  utilities:
    - slug: tdu_oncor
      utility_id: "1039940674000"
      utility_name: Oncor Electric Delivery
      base_url: http://localhost:8003
      deregulated: true
resolver:
  conflict_penalty: 15
bulk:
  batch_size: 25
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "territory.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://www.example.com"}, cfg.Server.AllowedOrigins)
	require.Len(t, cfg.Region, 1)
	assert.Equal(t, 75000, cfg.Region[0].Lo)
	assert.Equal(t, 3*time.Second, cfg.Providers.ProviderTimeout())
	assert.Equal(t, "coverage.yaml", cfg.Providers.CoverageTablePath)
	assert.Equal(t, "http://localhost:8001", cfg.Providers.GridOp.BaseURL)
	assert.Equal(t, "secret", cfg.Providers.Regulator.APIKey)
	require.Len(t, cfg.Providers.Utilities, 1)
	assert.Equal(t, "tdu_oncor", cfg.Providers.Utilities[0].Slug)
	assert.True(t, cfg.Providers.Utilities[0].Deregulated)
	assert.Equal(t, 15, cfg.Resolver.ConflictPenalty)
	// Defaults still apply for unset values.
	assert.Equal(t, 5, cfg.Resolver.AgreementBoost)
	assert.Equal(t, 25, cfg.Bulk.BatchSize)
}

func TestLoadEnvOverride(t *testing.T) {
	chTempDir(t)

	t.Setenv("TERRITORY_STORE_DRIVER", "sqlite")
	t.Setenv("TERRITORY_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestProviderTimeoutFloor(t *testing.T) {
	p := ProvidersConfig{TimeoutSecs: 0}
	assert.Equal(t, 5*time.Second, p.ProviderTimeout())

	p.TimeoutSecs = -1
	assert.Equal(t, 5*time.Second, p.ProviderTimeout())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	require.Error(t, err)
}
