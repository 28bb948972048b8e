package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/droverdev/drover/internal/errdefs"
)

// heartbeatScript records a heartbeat only for live instances. Stale or
// stopped instances must re-register; their old row is never resurrected.
// Returns "ok", "not_found", or "stale".
var heartbeatScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == false then
	return 'not_found'
end
if status == 'stale' or status == 'stopped' or status == 'failed' then
	return 'stale'
end
redis.call('HSET', KEYS[1], 'heartbeat_at_ms', ARGV[1], 'status', ARGV[2])
return 'ok'
`)

// markStaleScript flips a live instance to stale when its heartbeat is older
// than the cutoff. The check and the flip happen in one step so a concurrent
// heartbeat can never be overwritten by the sweep.
var markStaleScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'starting' and status ~= 'running' and status ~= 'idle' then
	return 0
end
local hb = tonumber(redis.call('HGET', KEYS[1], 'heartbeat_at_ms') or '0')
if hb >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'stale', 'completed_at_ms', ARGV[2])
return 1
`)

// Client provides instance-scoped Redis operations for the agent registry.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// New creates a registry client on an existing Redis connection.
// Returns an error if instanceName is empty.
func New(rdb *redis.Client, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          rdb,
		instanceName: instanceName,
	}, nil
}

// Register creates a new agent instance row and returns it.
// The instance starts in status "starting" with the registration time as its
// first heartbeat.
func (c *Client) Register(ctx context.Context, agentType string, capabilities []string, jobID string) (*AgentInstance, error) {
	if agentType == "" {
		return nil, fmt.Errorf("agent type cannot be empty")
	}

	now := time.Now().UnixMilli()
	instance := &AgentInstance{
		InstanceID:    NewInstanceID(agentType),
		AgentType:     agentType,
		JobID:         jobID,
		Status:        StatusStarting,
		Capabilities:  capabilities,
		HeartbeatAtMs: now,
		CreatedAtMs:   now,
	}

	if err := instance.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instance: %w", err)
	}

	hash, err := InstanceToHash(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize instance: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, InstanceKey(c.instanceName, instance.InstanceID), hash)
	pipe.SAdd(ctx, InstanceSetKey(c.instanceName), instance.InstanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to register instance: %w", err)
	}

	return instance, nil
}

// Heartbeat records liveness for an instance and transitions it to running.
// Returns errdefs.ErrNotFound for unknown instances and
// errdefs.ErrStaleInstance for instances already marked stale, stopped, or
// failed - those must re-register.
func (c *Client) Heartbeat(ctx context.Context, instanceID string) error {
	return c.heartbeat(ctx, instanceID, StatusRunning)
}

// HeartbeatIdle records liveness for an instance that currently has no work.
func (c *Client) HeartbeatIdle(ctx context.Context, instanceID string) error {
	return c.heartbeat(ctx, instanceID, StatusIdle)
}

func (c *Client) heartbeat(ctx context.Context, instanceID string, status Status) error {
	now := time.Now().UnixMilli()
	result, err := heartbeatScript.Run(ctx, c.rdb,
		[]string{InstanceKey(c.instanceName, instanceID)},
		now, string(status),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	switch result {
	case "ok":
		return nil
	case "not_found":
		return fmt.Errorf("instance %s: %w", instanceID, errdefs.ErrNotFound)
	default:
		return fmt.Errorf("instance %s: %w", instanceID, errdefs.ErrStaleInstance)
	}
}

// Deregister marks an instance stopped. The instance remains listed for
// audit purposes but can no longer heartbeat or claim. Callers holding
// claimed items must release them first (the orchestrator facade composes
// this with the job store's claim release).
func (c *Client) Deregister(ctx context.Context, instanceID string) error {
	instance, err := c.Get(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status == StatusStopped {
		return nil
	}

	now := time.Now().UnixMilli()
	err = c.rdb.HSet(ctx, InstanceKey(c.instanceName, instanceID),
		"status", string(StatusStopped),
		"completed_at_ms", now,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to deregister instance: %w", err)
	}

	return nil
}

// Get retrieves an agent instance by ID.
// Returns errdefs.ErrNotFound if the instance doesn't exist.
func (c *Client) Get(ctx context.Context, instanceID string) (*AgentInstance, error) {
	hashData, err := c.rdb.HGetAll(ctx, InstanceKey(c.instanceName, instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read instance: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys.
	if len(hashData) == 0 {
		return nil, fmt.Errorf("instance %s: %w", instanceID, errdefs.ErrNotFound)
	}

	instance, err := HashToInstance(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize instance: %w", err)
	}

	return instance, nil
}

// List returns all instances matching the filter, unordered.
func (c *Client) List(ctx context.Context, filter Filter) ([]*AgentInstance, error) {
	ids, err := c.rdb.SMembers(ctx, InstanceSetKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]*AgentInstance, 0, len(ids))
	for _, id := range ids {
		instance, err := c.Get(ctx, id)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		if filter.Status != "" && instance.Status != filter.Status {
			continue
		}
		if filter.JobID != "" && instance.JobID != filter.JobID {
			continue
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

// MarkStale flips every live instance whose heartbeat is older than the
// staleness window to stale, and returns the IDs that were flipped. Each
// flip is an atomic compare-and-set against a concurrent heartbeat. Only
// status and completed_at are mutated.
func (c *Client) MarkStale(ctx context.Context, window time.Duration) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, InstanceSetKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	now := time.Now().UnixMilli()
	cutoff := now - window.Milliseconds()

	var marked []string
	for _, id := range ids {
		flipped, err := markStaleScript.Run(ctx, c.rdb,
			[]string{InstanceKey(c.instanceName, id)},
			cutoff, now,
		).Int64()
		if err != nil {
			return marked, fmt.Errorf("failed to mark instance %s stale: %w", id, err)
		}
		if flipped == 1 {
			marked = append(marked, id)
		}
	}

	return marked, nil
}
