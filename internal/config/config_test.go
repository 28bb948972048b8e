package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drover.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10*time.Second, cfg.Liveness.HeartbeatInterval)
	assert.Equal(t, 4, cfg.Liveness.StalenessMultiplier)
	assert.Equal(t, time.Duration(0), cfg.Liveness.ReclaimGrace)
	assert.Equal(t, int64(5), cfg.Credits.JobOverhead)
	assert.Equal(t, int64(1), cfg.Credits.DefaultItemCost)
	assert.Equal(t, 2, cfg.Jobs.DefaultMaxRetries)
	assert.Equal(t, 1, cfg.Jobs.DefaultParallelism)
	assert.Equal(t, 30*time.Second, cfg.Invoke.DefaultTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("loads full config", func(t *testing.T) {
		path := writeConfig(t, `
version: "1.0"
liveness:
  heartbeat_interval: 5s
  staleness_multiplier: 3
  sweep_interval: 10s
  reclaim_grace: 2s
credits:
  job_overhead: 10
  default_item_cost: 2
  invoke_cost: 3
  costs:
    summarize: 4
    translate: 7
  latency_estimates_ms:
    summarize: 1500
jobs:
  default_max_retries: 1
  default_parallelism: 4
  poll_interval: 250ms
invoke:
  default_timeout: 15s
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 5*time.Second, cfg.Liveness.HeartbeatInterval)
		assert.Equal(t, 3, cfg.Liveness.StalenessMultiplier)
		assert.Equal(t, 2*time.Second, cfg.Liveness.ReclaimGrace)
		assert.Equal(t, int64(10), cfg.Credits.JobOverhead)
		assert.Equal(t, int64(4), cfg.Credits.Costs["summarize"])
		assert.Equal(t, int64(3), cfg.Credits.InvokeCost)
		assert.Equal(t, 4, cfg.Jobs.DefaultParallelism)
		assert.Equal(t, 15*time.Second, cfg.Invoke.DefaultTimeout)
	})

	t.Run("applies defaults for omitted fields", func(t *testing.T) {
		path := writeConfig(t, `
version: "1.0"
credits:
  costs:
    summarize: 4
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, cfg.Liveness.HeartbeatInterval)
		assert.Equal(t, 4, cfg.Liveness.StalenessMultiplier)
		assert.Equal(t, int64(4), cfg.Credits.Costs["summarize"])
	})

	t.Run("rejects missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/drover.yml")
		assert.Error(t, err)
	})

	t.Run("rejects invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "liveness: [not a map")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects staleness multiplier out of range", func(t *testing.T) {
		path := writeConfig(t, `
liveness:
  staleness_multiplier: 9
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "staleness_multiplier")
	})

	t.Run("rejects negative cost", func(t *testing.T) {
		path := writeConfig(t, `
credits:
  costs:
    summarize: -1
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be negative")
	})
}

func TestStalenessWindow(t *testing.T) {
	cfg := Default()
	cfg.Liveness.HeartbeatInterval = 10 * time.Second
	cfg.Liveness.StalenessMultiplier = 3

	assert.Equal(t, 30*time.Second, cfg.StalenessWindow())
}

func TestItemCost(t *testing.T) {
	cfg := Default()
	cfg.Credits.DefaultItemCost = 2
	cfg.Credits.Costs = map[string]int64{"summarize": 7}

	assert.Equal(t, int64(7), cfg.ItemCost("summarize"))
	assert.Equal(t, int64(2), cfg.ItemCost("unknown"))
}

func TestItemLatencyMs(t *testing.T) {
	cfg := Default()
	cfg.Credits.LatencyEstimatesMs = map[string]int64{"summarize": 1500}

	assert.Equal(t, int64(1500), cfg.ItemLatencyMs("summarize"))
	assert.Equal(t, int64(0), cfg.ItemLatencyMs("unknown"))
}
