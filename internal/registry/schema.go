package registry

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Redis key pattern helpers
//
// Key pattern: drover:{instance_name}:agent:{instance_id}
// Index pattern: drover:{instance_name}:agents

// InstanceKey returns the Redis key for an agent instance hash.
// Pattern: drover:{instance_name}:agent:{instance_id}
func InstanceKey(instanceName, instanceID string) string {
	return fmt.Sprintf("drover:%s:agent:%s", instanceName, instanceID)
}

// InstanceSetKey returns the Redis key for the set of all registered
// instance IDs. Pattern: drover:{instance_name}:agents
func InstanceSetKey(instanceName string) string {
	return fmt.Sprintf("drover:%s:agents", instanceName)
}

// ClaimsKey returns the Redis key for the set of item claims held by an
// instance, used for crash recovery. Members are "{job_id}/{item_id}".
// Pattern: drover:{instance_name}:agent:{instance_id}:claims
func ClaimsKey(instanceName, instanceID string) string {
	return fmt.Sprintf("drover:%s:agent:%s:claims", instanceName, instanceID)
}

// NewInstanceID generates a collision-resistant instance ID scoped to the
// agent type, e.g. "worker-3f2a8c91d04b". The type prefix lets operators
// visually group instances; the UUID-derived suffix makes collisions
// negligible without central coordination.
func NewInstanceID(agentType string) string {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%s-%s", agentType, token)
}
