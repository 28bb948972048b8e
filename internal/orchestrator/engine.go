// Package orchestrator composes the registry, ledger, job store, messaging,
// blackboard, and leader election into one engine with a single operation
// surface, and runs the background maintenance loop (stale sweep and claim
// reclamation).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/jobstore"
	"github.com/droverdev/drover/internal/leader"
	"github.com/droverdev/drover/internal/ledger"
	"github.com/droverdev/drover/internal/messaging"
	"github.com/droverdev/drover/internal/registry"
	"github.com/droverdev/drover/pkg/blackboard"
)

// DutyStaleSweep is the leader duty guarding the staleness sweep so only one
// engine process sweeps at a time.
const DutyStaleSweep = "stale-sweep"

// Engine is the orchestration facade. All state lives in Redis, including the
// sweep's reclamation bookkeeping, so any number of engine processes can serve
// requests against the same instance and any of them can take over the sweep.
type Engine struct {
	rdb          *redis.Client
	instanceName string
	cfg          *config.Config

	agents  *registry.Client
	credits *ledger.Client
	jobs    *jobstore.Store
	msgs    *messaging.Client
	board   *blackboard.Client
	elector *leader.Elector

	healthServer *HealthServer
}

// NewEngine creates an engine on an existing Redis connection.
func NewEngine(rdb *redis.Client, instanceName string, cfg *config.Config) (*Engine, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	agents, err := registry.New(rdb, instanceName)
	if err != nil {
		return nil, err
	}
	credits, err := ledger.New(rdb, instanceName)
	if err != nil {
		return nil, err
	}
	jobs, err := jobstore.New(rdb, instanceName, cfg)
	if err != nil {
		return nil, err
	}
	msgs, err := messaging.New(rdb, instanceName, agents, credits, cfg.Credits.InvokeCost)
	if err != nil {
		return nil, err
	}
	board, err := blackboard.New(rdb, instanceName)
	if err != nil {
		return nil, err
	}
	elector, err := leader.New(rdb, instanceName, "engine-"+instanceName)
	if err != nil {
		return nil, err
	}

	return &Engine{
		rdb:          rdb,
		instanceName: instanceName,
		cfg:          cfg,
		agents:       agents,
		credits:      credits,
		jobs:         jobs,
		msgs:         msgs,
		board:        board,
		elector:      elector,
		healthServer: NewHealthServer(rdb),
	}, nil
}

// Run starts the health server and the maintenance loop, and blocks until the
// context is cancelled. Maintenance failures are logged and the loop carries
// on; they never propagate to request-path callers.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer e.healthServer.Shutdown(context.Background())

	log.Printf("[Engine] Starting for instance '%s'", e.instanceName)

	ticker := time.NewTicker(e.cfg.Liveness.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Engine] Shutting down...")
			return nil

		case <-ticker.C:
			err := e.elector.WithDuty(ctx, DutyStaleSweep, e.cfg.Liveness.SweepInterval, e.sweep)
			if err != nil {
				log.Printf("[Engine] Sweep failed: %v", err)
			}
		}
	}
}

// sweep marks silent instances stale and releases their claimed items back to
// pending once the reclaim grace has elapsed. Runs under the stale-sweep duty
// lease. Reclaim candidates come from the registry, not from sweeper memory:
// the stale flip stamps completed_at_ms, so a successor engine picks up where
// a crashed sweeper left off.
func (e *Engine) sweep(ctx context.Context) error {
	marked, err := e.agents.MarkStale(ctx, e.cfg.StalenessWindow())
	if err != nil {
		return fmt.Errorf("failed to mark stale instances: %w", err)
	}
	for _, id := range marked {
		e.logEvent("instance_stale", map[string]interface{}{
			"stale_instance": id,
		})
	}

	stale, err := e.agents.List(ctx, registry.Filter{Status: registry.StatusStale})
	if err != nil {
		return fmt.Errorf("failed to list stale instances: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, instance := range stale {
		if now-instance.CompletedAtMs < e.cfg.Liveness.ReclaimGrace.Milliseconds() {
			continue
		}
		released, err := e.jobs.ReleaseClaims(ctx, instance.InstanceID)
		if err != nil {
			log.Printf("[Engine] Failed to release claims of %s: %v", instance.InstanceID, err)
			continue
		}
		if released > 0 {
			e.logEvent("claims_reclaimed", map[string]interface{}{
				"stale_instance": instance.InstanceID,
				"released_items": released,
			})
		}
	}

	return nil
}

// Ping verifies Redis connectivity.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// RegisterAgent registers a new agent instance.
func (e *Engine) RegisterAgent(ctx context.Context, agentType string, capabilities []string, jobID string) (*registry.AgentInstance, error) {
	instance, err := e.agents.Register(ctx, agentType, capabilities, jobID)
	if err != nil {
		return nil, err
	}

	e.logEvent("agent_registered", map[string]interface{}{
		"agent_instance": instance.InstanceID,
		"agent_type":     agentType,
	})

	return instance, nil
}

// Heartbeat records liveness for a working instance.
func (e *Engine) Heartbeat(ctx context.Context, instanceID string) error {
	return e.agents.Heartbeat(ctx, instanceID)
}

// HeartbeatIdle records liveness for an instance with no current work.
func (e *Engine) HeartbeatIdle(ctx context.Context, instanceID string) error {
	return e.agents.HeartbeatIdle(ctx, instanceID)
}

// DeregisterAgent releases any items the instance still holds, then marks it
// stopped.
func (e *Engine) DeregisterAgent(ctx context.Context, instanceID string) error {
	released, err := e.jobs.ReleaseClaims(ctx, instanceID)
	if err != nil {
		return err
	}

	if err := e.agents.Deregister(ctx, instanceID); err != nil {
		return err
	}

	e.logEvent("agent_deregistered", map[string]interface{}{
		"agent_instance": instanceID,
		"released_items": released,
	})

	return nil
}

// GetAgent retrieves an agent instance by ID.
func (e *Engine) GetAgent(ctx context.Context, instanceID string) (*registry.AgentInstance, error) {
	return e.agents.Get(ctx, instanceID)
}

// ListAgents returns agent instances matching the filter.
func (e *Engine) ListAgents(ctx context.Context, filter registry.Filter) ([]*registry.AgentInstance, error) {
	return e.agents.List(ctx, filter)
}

// GrantCredits tops up a tenant's available balance.
func (e *Engine) GrantCredits(ctx context.Context, tenantID string, amount int64, note string) (*ledger.Entry, error) {
	return e.credits.Grant(ctx, tenantID, amount, note)
}

// Balance returns a tenant's available credit balance.
func (e *Engine) Balance(ctx context.Context, tenantID string) (int64, error) {
	return e.credits.Balance(ctx, tenantID)
}

// LedgerEntries returns a tenant's full ledger in append order.
func (e *Engine) LedgerEntries(ctx context.Context, tenantID string) ([]*ledger.Entry, error) {
	return e.credits.Entries(ctx, tenantID)
}

// JobLedgerEntries returns one job's ledger rows in append order.
func (e *Engine) JobLedgerEntries(ctx context.Context, tenantID, jobID string) ([]*ledger.Entry, error) {
	return e.credits.JobEntries(ctx, tenantID, jobID)
}

// SimulateJob estimates cost, duration, and risks for a prospective job
// without side effects.
func (e *Engine) SimulateJob(ctx context.Context, req jobstore.SimulateRequest) (*jobstore.Feasibility, error) {
	return e.jobs.Simulate(ctx, req)
}

// CreateJob reserves credits and materializes a job atomically.
func (e *Engine) CreateJob(ctx context.Context, req jobstore.CreateJobRequest) (*jobstore.Job, error) {
	job, err := e.jobs.CreateJob(ctx, req)
	if err != nil {
		return nil, err
	}

	e.logEvent("job_created", map[string]interface{}{
		"job_id":           job.ID,
		"tenant_id":        job.TenantID,
		"total_items":      job.TotalItems,
		"credits_reserved": job.CreditsReserved,
	})

	return job, nil
}

// GetJob retrieves a job by ID.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*jobstore.Job, error) {
	return e.jobs.GetJob(ctx, jobID)
}

// ListJobs returns every job, unordered.
func (e *Engine) ListJobs(ctx context.Context) ([]*jobstore.Job, error) {
	return e.jobs.ListJobs(ctx)
}

// CancelJob cancels a job, refunding the pending items' reservation.
func (e *Engine) CancelJob(ctx context.Context, jobID string) (*jobstore.CancelResult, error) {
	result, err := e.jobs.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}

	e.logEvent("job_cancelled", map[string]interface{}{
		"job_id":           jobID,
		"cancelled_items":  result.CancelledItems,
		"credits_refunded": result.CreditsRefunded,
	})

	return result, nil
}

// ClaimItem hands the FIFO-next pending item of a job to a worker.
func (e *Engine) ClaimItem(ctx context.Context, jobID, workerInstanceID string) (*jobstore.JobItem, error) {
	item, err := e.jobs.Claim(ctx, jobID, workerInstanceID)
	if err != nil {
		return nil, err
	}

	e.logEvent("item_claimed", map[string]interface{}{
		"job_id":         jobID,
		"item_id":        item.ID,
		"agent_instance": workerInstanceID,
	})

	return item, nil
}

// CompleteItem resolves a claimed item successfully and posts its charge.
func (e *Engine) CompleteItem(ctx context.Context, jobID, itemID, output string) error {
	if err := e.jobs.Complete(ctx, jobID, itemID, output); err != nil {
		return err
	}

	e.logEvent("item_completed", map[string]interface{}{
		"job_id":  jobID,
		"item_id": itemID,
	})

	return nil
}

// FailItem resolves a failed attempt, requeueing the item while its retry
// budget lasts.
func (e *Engine) FailItem(ctx context.Context, jobID, itemID, errorMessage string) (bool, error) {
	willRetry, err := e.jobs.Fail(ctx, jobID, itemID, errorMessage)
	if err != nil {
		return false, err
	}

	e.logEvent("item_failed", map[string]interface{}{
		"job_id":     jobID,
		"item_id":    itemID,
		"will_retry": willRetry,
	})

	return willRetry, nil
}

// GetItem retrieves a job item by ID.
func (e *Engine) GetItem(ctx context.Context, itemID string) (*jobstore.JobItem, error) {
	return e.jobs.GetItem(ctx, itemID)
}

// ListItems returns every item of a job ordered by item index.
func (e *Engine) ListItems(ctx context.Context, jobID string) ([]*jobstore.JobItem, error) {
	return e.jobs.ListItems(ctx, jobID)
}

// SendMessage delivers a point-to-point message to a registered instance.
func (e *Engine) SendMessage(ctx context.Context, from, to, payload, jobID string) (*messaging.Message, error) {
	return e.msgs.Send(ctx, from, to, payload, jobID)
}

// Inbox lists an instance's messages, newest first.
func (e *Engine) Inbox(ctx context.Context, instanceID string, markDelivered bool) ([]*messaging.Message, error) {
	return e.msgs.Inbox(ctx, instanceID, markDelivered)
}

// Invoke performs a synchronous request/response exchange between two agents.
func (e *Engine) Invoke(ctx context.Context, req messaging.InvokeRequest) (*messaging.Invocation, error) {
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = int(e.cfg.Invoke.DefaultTimeout.Seconds())
	}

	inv, err := e.msgs.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	e.logEvent("invoke_completed", map[string]interface{}{
		"invoke_id":       inv.InvokeID,
		"caller":          inv.CallerInstance,
		"target":          inv.TargetInstance,
		"duration_ms":     inv.DurationMs,
		"credits_charged": inv.CreditsCharged,
	})

	return inv, nil
}

// Respond resolves a pending invocation with the target's response.
func (e *Engine) Respond(ctx context.Context, invokeID, responsePayload string) error {
	return e.msgs.Respond(ctx, invokeID, responsePayload)
}

// Blackboard returns the ephemeral scratch-space client.
func (e *Engine) Blackboard() *blackboard.Client {
	return e.board
}

// Messaging returns the messaging client, for workers that subscribe to
// their inbox notifications directly.
func (e *Engine) Messaging() *messaging.Client {
	return e.msgs
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "engine"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Engine] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
