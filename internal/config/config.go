// Package config loads and validates drover.yml, the engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level drover.yml configuration.
type Config struct {
	Version string `yaml:"version"`

	// Liveness controls heartbeat cadence and stale-instance detection.
	Liveness LivenessConfig `yaml:"liveness"`

	// Credits defines the capability cost table used for simulation,
	// reservation, and per-item charging.
	Credits CreditsConfig `yaml:"credits"`

	// Jobs defines job-level defaults.
	Jobs JobsConfig `yaml:"jobs"`

	// Invoke defines defaults for synchronous agent-to-agent calls.
	Invoke InvokeConfig `yaml:"invoke"`
}

// LivenessConfig controls the heartbeat/sweep cycle.
type LivenessConfig struct {
	// HeartbeatInterval is how often workers are expected to heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StalenessMultiplier scales the heartbeat interval into the staleness
	// window. Must be between 2 and 6; instances silent for longer than
	// HeartbeatInterval * StalenessMultiplier are marked stale.
	StalenessMultiplier int `yaml:"staleness_multiplier"`

	// SweepInterval is how often the maintenance loop runs the stale sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ReclaimGrace delays releasing a stale instance's claimed items after
	// it is marked stale. Zero means immediate reclaim.
	ReclaimGrace time.Duration `yaml:"reclaim_grace"`
}

// CreditsConfig is the capability cost table.
type CreditsConfig struct {
	// JobOverhead is the fixed per-job cost charged when a job settles.
	JobOverhead int64 `yaml:"job_overhead"`

	// DefaultItemCost is used for capabilities absent from the table.
	DefaultItemCost int64 `yaml:"default_item_cost"`

	// InvokeCost is the per-call cost of a completed invoke.
	InvokeCost int64 `yaml:"invoke_cost"`

	// Costs maps capability name to per-item cost in credits.
	Costs map[string]int64 `yaml:"costs"`

	// LatencyEstimatesMs maps capability name to estimated per-item latency,
	// used only by job simulation.
	LatencyEstimatesMs map[string]int64 `yaml:"latency_estimates_ms"`
}

// JobsConfig holds job-level defaults.
type JobsConfig struct {
	// DefaultMaxRetries applies when a create request does not set max retries.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// DefaultParallelism applies when a create request does not set parallelism.
	DefaultParallelism int `yaml:"default_parallelism"`

	// PollInterval is the suggested claim-loop backoff for workers.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// InvokeConfig holds invoke defaults.
type InvokeConfig struct {
	// DefaultTimeout applies when an invoke call does not set a timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{Version: "1.0"}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a drover.yml file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Liveness.HeartbeatInterval == 0 {
		c.Liveness.HeartbeatInterval = 10 * time.Second
	}
	if c.Liveness.StalenessMultiplier == 0 {
		c.Liveness.StalenessMultiplier = 4
	}
	if c.Liveness.SweepInterval == 0 {
		c.Liveness.SweepInterval = 15 * time.Second
	}
	if c.Credits.JobOverhead == 0 {
		c.Credits.JobOverhead = 5
	}
	if c.Credits.DefaultItemCost == 0 {
		c.Credits.DefaultItemCost = 1
	}
	if c.Credits.InvokeCost == 0 {
		c.Credits.InvokeCost = 1
	}
	if c.Credits.Costs == nil {
		c.Credits.Costs = map[string]int64{}
	}
	if c.Credits.LatencyEstimatesMs == nil {
		c.Credits.LatencyEstimatesMs = map[string]int64{}
	}
	if c.Jobs.DefaultMaxRetries == 0 {
		c.Jobs.DefaultMaxRetries = 2
	}
	if c.Jobs.DefaultParallelism == 0 {
		c.Jobs.DefaultParallelism = 1
	}
	if c.Jobs.PollInterval == 0 {
		c.Jobs.PollInterval = 500 * time.Millisecond
	}
	if c.Invoke.DefaultTimeout == 0 {
		c.Invoke.DefaultTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Liveness.HeartbeatInterval <= 0 {
		return fmt.Errorf("liveness.heartbeat_interval must be positive")
	}

	if c.Liveness.StalenessMultiplier < 2 || c.Liveness.StalenessMultiplier > 6 {
		return fmt.Errorf("liveness.staleness_multiplier must be between 2 and 6, got %d", c.Liveness.StalenessMultiplier)
	}

	if c.Liveness.SweepInterval <= 0 {
		return fmt.Errorf("liveness.sweep_interval must be positive")
	}

	if c.Liveness.ReclaimGrace < 0 {
		return fmt.Errorf("liveness.reclaim_grace cannot be negative")
	}

	if c.Credits.JobOverhead < 0 {
		return fmt.Errorf("credits.job_overhead cannot be negative")
	}

	if c.Credits.DefaultItemCost < 0 {
		return fmt.Errorf("credits.default_item_cost cannot be negative")
	}

	for capability, cost := range c.Credits.Costs {
		if cost < 0 {
			return fmt.Errorf("credits.costs[%s] cannot be negative", capability)
		}
	}

	if c.Jobs.DefaultMaxRetries < 0 {
		return fmt.Errorf("jobs.default_max_retries cannot be negative")
	}

	if c.Jobs.DefaultParallelism < 1 {
		return fmt.Errorf("jobs.default_parallelism must be at least 1")
	}

	return nil
}

// StalenessWindow returns the duration after which a silent instance is stale.
func (c *Config) StalenessWindow() time.Duration {
	return c.Liveness.HeartbeatInterval * time.Duration(c.Liveness.StalenessMultiplier)
}

// ItemCost returns the per-item cost for a capability, falling back to the
// default when the capability is not in the table.
func (c *Config) ItemCost(capability string) int64 {
	if cost, ok := c.Credits.Costs[capability]; ok {
		return cost
	}
	return c.Credits.DefaultItemCost
}

// ItemLatencyMs returns the estimated per-item latency for a capability.
// Returns 0 when no estimate is configured.
func (c *Config) ItemLatencyMs(capability string) int64 {
	return c.Credits.LatencyEstimatesMs[capability]
}
