package commands

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverdev/drover/internal/printer"
	"github.com/droverdev/drover/internal/registry"
)

var (
	agentsStatus string
	agentsJobID  string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent instances",
	Long: `List registered agent instances with their status, capabilities, and
time since last heartbeat. Filter with --status and --job.`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().StringVar(&agentsStatus, "status", "", "Filter by status (starting, running, idle, stale, stopped, failed)")
	agentsCmd.Flags().StringVar(&agentsJobID, "job", "", "Filter by pinned job ID")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, err := newEngine()
	if err != nil {
		return err
	}

	filter := registry.Filter{JobID: agentsJobID}
	if agentsStatus != "" {
		filter.Status = registry.Status(agentsStatus)
		if err := filter.Status.Validate(); err != nil {
			return printer.Error("Invalid status filter", err.Error(), nil)
		}
	}

	agents, err := engine.ListAgents(ctx, filter)
	if err != nil {
		return printer.Error("Failed to list agents", err.Error(), nil)
	}

	if len(agents) == 0 {
		printer.Println("No agent instances found.")
		return nil
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].InstanceID < agents[j].InstanceID
	})

	printer.Printf("%-32s %-10s %-24s %s\n", "INSTANCE", "STATUS", "CAPABILITIES", "LAST HEARTBEAT")
	now := time.Now().UnixMilli()
	for _, agent := range agents {
		age := time.Duration(now-agent.HeartbeatAtMs) * time.Millisecond
		printer.Printf("%-32s %-10s %-24s %s ago\n",
			agent.InstanceID,
			agent.Status,
			strings.Join(agent.Capabilities, ","),
			age.Round(time.Second),
		)
	}

	return nil
}
