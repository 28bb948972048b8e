package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/droverdev/drover/internal/printer"
	"github.com/droverdev/drover/internal/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show instance status",
	Long: `Show an overview of the drover instance: Redis connectivity, agent
counts by status, and job counts by status.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := newEngine()
	if err != nil {
		return err
	}

	if err := engine.Ping(ctx); err != nil {
		return printer.Error("Redis not accessible", err.Error(),
			[]string{"Check that REDIS_URL points at a running Redis server"})
	}
	printer.Success("Redis connected\n")

	agents, err := engine.ListAgents(ctx, registry.Filter{})
	if err != nil {
		return printer.Error("Failed to list agents", err.Error(), nil)
	}

	agentCounts := map[registry.Status]int{}
	for _, agent := range agents {
		agentCounts[agent.Status]++
	}

	printer.Printf("\nAgents (%d total):\n", len(agents))
	for _, status := range []registry.Status{
		registry.StatusStarting, registry.StatusRunning, registry.StatusIdle,
		registry.StatusStale, registry.StatusStopped, registry.StatusFailed,
	} {
		if n := agentCounts[status]; n > 0 {
			printer.Printf("  %-10s %d\n", status, n)
		}
	}

	jobs, err := engine.ListJobs(ctx)
	if err != nil {
		return printer.Error("Failed to list jobs", err.Error(), nil)
	}

	jobCounts := map[string]int{}
	for _, job := range jobs {
		jobCounts[string(job.Status)]++
	}

	printer.Printf("\nJobs (%d total):\n", len(jobs))
	for _, status := range []string{"pending", "running", "completed", "failed", "cancelled"} {
		if n := jobCounts[status]; n > 0 {
			printer.Printf("  %-10s %d\n", status, n)
		}
	}

	return nil
}
