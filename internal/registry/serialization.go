package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). The capabilities
// array is JSON-encoded into a single hash field.

// InstanceToHash converts an AgentInstance struct to a Redis hash format.
func InstanceToHash(a *AgentInstance) (map[string]interface{}, error) {
	capabilitiesJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	hash := map[string]interface{}{
		"instance_id":     a.InstanceID,
		"agent_type":      a.AgentType,
		"job_id":          a.JobID,
		"status":          string(a.Status),
		"capabilities":    string(capabilitiesJSON),
		"heartbeat_at_ms": a.HeartbeatAtMs,
		"created_at_ms":   a.CreatedAtMs,
		"completed_at_ms": a.CompletedAtMs,
	}

	return hash, nil
}

// HashToInstance converts a Redis hash to an AgentInstance struct.
func HashToInstance(hash map[string]string) (*AgentInstance, error) {
	var capabilities []string
	if capabilitiesJSON := hash["capabilities"]; capabilitiesJSON != "" {
		if err := json.Unmarshal([]byte(capabilitiesJSON), &capabilities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}
	if capabilities == nil {
		capabilities = []string{}
	}

	heartbeatAtMs, _ := strconv.ParseInt(hash["heartbeat_at_ms"], 10, 64)
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	completedAtMs, _ := strconv.ParseInt(hash["completed_at_ms"], 10, 64)

	instance := &AgentInstance{
		InstanceID:    hash["instance_id"],
		AgentType:     hash["agent_type"],
		JobID:         hash["job_id"],
		Status:        Status(hash["status"]),
		Capabilities:  capabilities,
		HeartbeatAtMs: heartbeatAtMs,
		CreatedAtMs:   createdAtMs,
		CompletedAtMs: completedAtMs,
	}

	return instance, nil
}
