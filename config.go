package tally

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tallysum/tally/planner"
	"github.com/tallysum/tally/store"
	"github.com/tallysum/tally/types"
)

// Config is the configuration for the Manager.
//
// The zero value is usable: SetDefaults fills every field with its
// documented default. All duration fields accept standard Go duration
// strings ("45s", "2m") when loaded from YAML.
type Config struct {
	// BatchLimit is the maximum number of shards consumed by a single
	// aggregation transaction. A full batch is the signal that the backlog
	// is large enough to warrant partitioned workers.
	// Default: 200.
	BatchLimit int `yaml:"batchLimit"`

	// MaxAttempts bounds the conflict retries of one aggregation pass.
	// Exhausting the attempts surfaces as a controller failure, which
	// escalates to a worker reschedule rather than an error loop.
	// Default: 3.
	MaxAttempts int `yaml:"maxAttempts"`

	// CountLimit caps the backlog-estimate query used to size the partition
	// plan. The estimate is deliberately bounded; the plan only needs the
	// right order of magnitude up to MaxWorkers * PerWorkerTarget.
	// Default: 10000.
	CountLimit int `yaml:"countLimit"`

	// RunBudget is the soft wall-clock cap of one worker run. The worker
	// stops initiating new batches past the budget; in-flight transactions
	// finish. Default: 45s.
	RunBudget time.Duration `yaml:"runBudget"`

	// TickInterval is the cadence of the periodic controller pass.
	// Default: 60s.
	TickInterval time.Duration `yaml:"tickInterval"`

	// StalenessFactor scales RunBudget into the heartbeat staleness
	// threshold: a RUNNING descriptor whose heartbeat is older than
	// StalenessFactor * RunBudget is marked failed by the health sweep.
	// Must be greater than 1 so a healthy worker's own run cannot outlast
	// the threshold. Default: 2.0.
	StalenessFactor float64 `yaml:"stalenessFactor"`

	// LowWaterMark is the backlog size below which the partition plan
	// collapses to direct aggregation. Default: BatchLimit.
	LowWaterMark int `yaml:"lowWaterMark"`

	// PerWorkerTarget is the desired backlog share per partition worker.
	// Default: BatchLimit.
	PerWorkerTarget int `yaml:"perWorkerTarget"`

	// MaxWorkers caps the number of partition workers regardless of backlog
	// size. Default: 16.
	MaxWorkers int `yaml:"maxWorkers"`

	// StartupTimeout bounds bucket creation during Start.
	// Default: 10s.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// Buckets configures the KV bucket layout.
	// Defaults: tally-shards / tally-state / tally-workers, 1 replica.
	Buckets store.Config `yaml:"buckets"`
}

// SetDefaults fills in missing configuration values with defaults.
func SetDefaults(cfg *Config) {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CountLimit <= 0 {
		cfg.CountLimit = 10000
	}
	if cfg.RunBudget <= 0 {
		cfg.RunBudget = 45 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.StalenessFactor <= 0 {
		cfg.StalenessFactor = 2.0
	}
	if cfg.LowWaterMark <= 0 {
		cfg.LowWaterMark = cfg.BatchLimit
	}
	if cfg.PerWorkerTarget <= 0 {
		cfg.PerWorkerTarget = cfg.BatchLimit
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 10 * time.Second
	}
	if cfg.Buckets.ShardBucket == "" {
		cfg.Buckets.ShardBucket = "tally-shards"
	}
	if cfg.Buckets.StateBucket == "" {
		cfg.Buckets.StateBucket = "tally-state"
	}
	if cfg.Buckets.WorkerBucket == "" {
		cfg.Buckets.WorkerBucket = "tally-workers"
	}
	if cfg.Buckets.Replicas <= 0 {
		cfg.Buckets.Replicas = 1
	}
}

// Validate checks the configuration for consistency.
//
// Returns:
//   - error: Description of the first violated constraint, nil if valid
func (c *Config) Validate() error {
	if c.BatchLimit <= 0 {
		return fmt.Errorf("batchLimit must be positive, got %d", c.BatchLimit)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RunBudget <= 0 {
		return fmt.Errorf("runBudget must be positive, got %s", c.RunBudget)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tickInterval must be positive, got %s", c.TickInterval)
	}
	if c.StalenessFactor <= 1 {
		return fmt.Errorf("stalenessFactor must be greater than 1, got %g", c.StalenessFactor)
	}
	if c.MaxWorkers < 2 {
		return fmt.Errorf("maxWorkers must be at least 2, got %d", c.MaxWorkers)
	}
	if c.CountLimit < c.LowWaterMark {
		return fmt.Errorf("countLimit (%d) must not be below lowWaterMark (%d)", c.CountLimit, c.LowWaterMark)
	}

	return nil
}

// ValidateWithWarnings logs non-fatal configuration concerns.
//
// Parameters:
//   - logger: Logger for warnings
func (c *Config) ValidateWithWarnings(logger types.Logger) {
	if c.TickInterval < c.RunBudget {
		logger.Warn("tickInterval is below runBudget; controller passes will overlap worker runs",
			"tickInterval", c.TickInterval, "runBudget", c.RunBudget)
	}
	if c.PerWorkerTarget < c.BatchLimit {
		logger.Warn("perWorkerTarget below batchLimit creates partitions a single batch could drain",
			"perWorkerTarget", c.PerWorkerTarget, "batchLimit", c.BatchLimit)
	}
	if c.CountLimit < c.MaxWorkers*c.PerWorkerTarget {
		logger.Warn("countLimit saturates before the partition cap is reachable",
			"countLimit", c.CountLimit, "maxWorkers", c.MaxWorkers, "perWorkerTarget", c.PerWorkerTarget)
	}
}

// StalenessThreshold returns the heartbeat age beyond which a RUNNING
// descriptor is considered stale.
func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessFactor * float64(c.RunBudget))
}

// plannerConfig derives the partition planning policy from the manager
// configuration.
func (c *Config) plannerConfig() planner.Config {
	return planner.Config{
		LowWaterMark:    c.LowWaterMark,
		PerWorkerTarget: c.PerWorkerTarget,
		MaxPartitions:   c.MaxWorkers,
	}
}

// LoadConfig reads a YAML configuration file.
//
// Missing fields keep their zero value; call SetDefaults (or rely on
// NewManager, which does) to fill them in.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - *Config: Parsed configuration
//   - error: Read or parse error
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}
