//go:build integration

package main

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/jobstore"
	"github.com/droverdev/drover/internal/orchestrator"
	"github.com/droverdev/drover/internal/worker"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)

	port, err := redisC.MappedPort(ctx, nat.Port("6379/tcp"))
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

// TestEndToEnd runs a full job lifecycle against real Redis: fund a tenant,
// create a job, let a worker harness drain it, and check the settlement.
func TestEndToEnd(t *testing.T) {
	addr := setupRedis(t)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	cfg := config.Default()
	cfg.Jobs.PollInterval = 50 * time.Millisecond
	cfg.Liveness.HeartbeatInterval = 200 * time.Millisecond
	cfg.Credits.Costs = map[string]int64{"uppercase": 2}

	engine, err := orchestrator.NewEngine(rdb, "integration", cfg)
	require.NoError(t, err)

	_, err = engine.GrantCredits(ctx, "tenant-1", 100, "integration funding")
	require.NoError(t, err)

	job, err := engine.CreateJob(ctx, jobstore.CreateJobRequest{
		TenantID: "tenant-1",
		Task:     "uppercase",
		Items:    []string{"alpha", "beta", "gamma", "delta"},
	})
	require.NoError(t, err)

	harness, err := worker.New(engine, cfg, "upper-worker", "")
	require.NoError(t, err)
	harness.Handle("uppercase", func(ctx context.Context, item *jobstore.JobItem) (string, error) {
		return strings.ToUpper(item.Input), nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- harness.Run(runCtx) }()

	deadline := time.Now().Add(30 * time.Second)
	var settled *jobstore.Job
	for time.Now().Before(deadline) {
		settled, err = engine.GetJob(ctx, job.ID)
		require.NoError(t, err)
		if settled.Status.Terminal() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	require.NotNil(t, settled)
	assert.Equal(t, jobstore.JobStatusCompleted, settled.Status)
	assert.Equal(t, 4, settled.CompletedItems)
	assert.Equal(t, int64(0), settled.CreditsRemaining)

	// reserved = overhead + 4*2; everything charged, nothing refunded
	entries, err := engine.JobLedgerEntries(ctx, "tenant-1", job.ID)
	require.NoError(t, err)

	var reserved, charged, refunded int64
	for _, entry := range entries {
		switch entry.Operation {
		case "reserve":
			reserved += entry.Amount
		case "charge":
			charged += entry.Amount
		case "refund":
			refunded += entry.Amount
		}
	}
	assert.Equal(t, reserved, charged+refunded)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not shut down")
	}
}
