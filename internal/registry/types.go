// Package registry tracks live worker and orchestrator instances. Instances
// register with a declared capability set, prove liveness via heartbeats, and
// are marked stale by the maintenance sweep when their heartbeat goes silent
// for longer than the configured staleness window.
package registry

import "fmt"

// AgentInstance represents one registered worker or orchestrator process.
// The row is exclusively owned by the process that registered it; the sweep
// may only mutate status and completed_at, never the declared capabilities.
type AgentInstance struct {
	InstanceID    string   `json:"instance_id"`    // {agent_type}-{token}, unique
	AgentType     string   `json:"agent_type"`     // Operator-visible grouping (e.g. "worker", "orchestrator")
	JobID         string   `json:"job_id"`         // Optional job this worker serves
	Status        Status   `json:"status"`         // Current lifecycle state
	Capabilities  []string `json:"capabilities"`   // Declared capability names
	HeartbeatAtMs int64    `json:"heartbeat_at_ms"` // Unix ms of last observed heartbeat
	CreatedAtMs   int64    `json:"created_at_ms"`
	CompletedAtMs int64    `json:"completed_at_ms"` // Set when stopped or force-closed
}

// Status defines the lifecycle state of an agent instance.
type Status string

const (
	// StatusStarting indicates the instance registered but has not heartbeated yet.
	StatusStarting Status = "starting"

	// StatusRunning indicates the instance is live and processing work.
	StatusRunning Status = "running"

	// StatusIdle indicates the instance is live but has no work.
	StatusIdle Status = "idle"

	// StatusStale indicates no heartbeat was observed within the liveness window.
	StatusStale Status = "stale"

	// StatusStopped indicates the instance deregistered or was force-closed.
	StatusStopped Status = "stopped"

	// StatusFailed indicates the instance reported a fatal error.
	StatusFailed Status = "failed"
)

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusStarting, StatusRunning, StatusIdle, StatusStale, StatusStopped, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown agent status: %q", s)
	}
}

// Live reports whether the status counts as live for claim validation.
func (s Status) Live() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusIdle:
		return true
	default:
		return false
	}
}

// Validate checks if the AgentInstance has valid field values.
func (a *AgentInstance) Validate() error {
	if a.InstanceID == "" {
		return fmt.Errorf("instance ID cannot be empty")
	}

	if a.AgentType == "" {
		return fmt.Errorf("agent type cannot be empty")
	}

	if err := a.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	return nil
}

// Filter selects instances in List. Zero values match everything.
type Filter struct {
	Status Status
	JobID  string
}
