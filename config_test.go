package tally

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	cfg := Config{}
	SetDefaults(&cfg)

	assert.Equal(t, 200, cfg.BatchLimit)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 10000, cfg.CountLimit)
	assert.Equal(t, 45*time.Second, cfg.RunBudget)
	assert.Equal(t, 60*time.Second, cfg.TickInterval)
	assert.Equal(t, 2.0, cfg.StalenessFactor)
	assert.Equal(t, cfg.BatchLimit, cfg.LowWaterMark)
	assert.Equal(t, cfg.BatchLimit, cfg.PerWorkerTarget)
	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, 10*time.Second, cfg.StartupTimeout)
	assert.Equal(t, "tally-shards", cfg.Buckets.ShardBucket)
	assert.Equal(t, "tally-state", cfg.Buckets.StateBucket)
	assert.Equal(t, "tally-workers", cfg.Buckets.WorkerBucket)
	assert.Equal(t, 1, cfg.Buckets.Replicas)
}

func TestSetDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{
		BatchLimit:   50,
		LowWaterMark: 25,
	}
	SetDefaults(&cfg)

	assert.Equal(t, 50, cfg.BatchLimit)
	assert.Equal(t, 25, cfg.LowWaterMark)
	assert.Equal(t, 50, cfg.PerWorkerTarget, "per-worker target should follow the explicit batch limit")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{}
	SetDefaults(&valid)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch limit", func(c *Config) { c.BatchLimit = 0 }},
		{"negative max attempts", func(c *Config) { c.MaxAttempts = -1 }},
		{"zero run budget", func(c *Config) { c.RunBudget = 0 }},
		{"zero tick interval", func(c *Config) { c.TickInterval = 0 }},
		{"staleness factor at one", func(c *Config) { c.StalenessFactor = 1.0 }},
		{"single worker cap", func(c *Config) { c.MaxWorkers = 1 }},
		{"count limit below low-water mark", func(c *Config) { c.CountLimit = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_StalenessThreshold(t *testing.T) {
	cfg := Config{
		RunBudget:       30 * time.Second,
		StalenessFactor: 2.0,
	}
	assert.Equal(t, 60*time.Second, cfg.StalenessThreshold())

	cfg.StalenessFactor = 1.5
	assert.Equal(t, 45*time.Second, cfg.StalenessThreshold())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	data := []byte(`
batchLimit: 100
runBudget: 30s
tickInterval: 2m
stalenessFactor: 3.0
buckets:
  shardBucket: custom-shards
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.BatchLimit)
	assert.Equal(t, 30*time.Second, cfg.RunBudget)
	assert.Equal(t, 2*time.Minute, cfg.TickInterval)
	assert.Equal(t, 3.0, cfg.StalenessFactor)
	assert.Equal(t, "custom-shards", cfg.Buckets.ShardBucket)

	// Unset fields keep zero values until defaults are applied.
	assert.Zero(t, cfg.MaxWorkers)
	SetDefaults(cfg)
	assert.Equal(t, 16, cfg.MaxWorkers)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
