// Package worker provides an embeddable harness for claim-loop workers.
//
// A harness registers an agent instance with its declared capabilities, keeps
// it alive with a heartbeat goroutine, and runs the claim loop: scan for jobs
// matching a capability, claim the next pending item, dispatch it to the
// registered CapabilityFunc, and resolve it as completed or failed. On
// shutdown the harness releases any held claims and deregisters.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/errdefs"
	"github.com/droverdev/drover/internal/jobstore"
	"github.com/droverdev/drover/internal/orchestrator"
)

// CapabilityFunc executes one job item and returns its output.
// A returned error resolves the item as a failed attempt.
type CapabilityFunc func(ctx context.Context, item *jobstore.JobItem) (string, error)

// Harness runs the register/heartbeat/claim/execute loop for one agent
// instance.
type Harness struct {
	engine    *orchestrator.Engine
	cfg       *config.Config
	agentType string
	jobID     string

	capabilities map[string]CapabilityFunc

	instanceID string
	busy       atomic.Bool
	wg         sync.WaitGroup
}

// New creates a harness for an agent type. jobID may be empty for workers not
// pinned to one job.
func New(engine *orchestrator.Engine, cfg *config.Config, agentType, jobID string) (*Harness, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if agentType == "" {
		return nil, fmt.Errorf("agent type cannot be empty")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	return &Harness{
		engine:       engine,
		cfg:          cfg,
		agentType:    agentType,
		jobID:        jobID,
		capabilities: make(map[string]CapabilityFunc),
	}, nil
}

// Handle registers the function executed for items of jobs with the given
// capability. Must be called before Run.
func (h *Harness) Handle(capability string, fn CapabilityFunc) {
	h.capabilities[capability] = fn
}

// InstanceID returns the registered instance ID, or "" before Run.
func (h *Harness) InstanceID() string {
	return h.instanceID
}

// Run registers the instance and blocks in the claim loop until the context
// is cancelled, then deregisters gracefully. Returns an error if registration
// fails or the instance goes stale mid-run.
func (h *Harness) Run(ctx context.Context) error {
	if len(h.capabilities) == 0 {
		return fmt.Errorf("no capabilities registered")
	}

	capabilities := make([]string, 0, len(h.capabilities))
	for capability := range h.capabilities {
		capabilities = append(capabilities, capability)
	}

	instance, err := h.engine.RegisterAgent(ctx, h.agentType, capabilities, h.jobID)
	if err != nil {
		return fmt.Errorf("failed to register worker: %w", err)
	}
	h.instanceID = instance.InstanceID

	log.Printf("[Worker] Registered instance '%s' with capabilities %v", h.instanceID, capabilities)

	// staleCh closes when a heartbeat reports the instance stale, which
	// means the sweep reclaimed our claims and we must stop.
	staleCh := make(chan struct{})
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	h.wg.Add(1)
	go h.heartbeatLoop(heartbeatCtx, staleCh)

	runErr := h.claimLoop(ctx, staleCh)

	stopHeartbeat()
	h.wg.Wait()

	// Deregistration uses a fresh context so shutdown still releases claims
	// after ctx is cancelled.
	deregCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.engine.DeregisterAgent(deregCtx, h.instanceID); err != nil {
		log.Printf("[Worker] Failed to deregister instance '%s': %v", h.instanceID, err)
	}

	log.Printf("[Worker] Instance '%s' stopped", h.instanceID)
	return runErr
}

// heartbeatLoop keeps the instance alive until its context ends. A stale or
// stopped verdict closes staleCh so the claim loop stops promptly.
func (h *Harness) heartbeatLoop(ctx context.Context, staleCh chan struct{}) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Liveness.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var err error
			if h.busy.Load() {
				err = h.engine.Heartbeat(ctx, h.instanceID)
			} else {
				err = h.engine.HeartbeatIdle(ctx, h.instanceID)
			}
			if err != nil {
				if errdefs.IsStaleInstance(err) || errdefs.IsNotFound(err) {
					log.Printf("[Worker] Instance '%s' no longer live: %v", h.instanceID, err)
					close(staleCh)
					return
				}
				log.Printf("[Worker] Heartbeat failed: %v", err)
			}
		}
	}
}

// claimLoop polls for claimable work, backing off by the configured poll
// interval when every matching job is drained.
func (h *Harness) claimLoop(ctx context.Context, staleCh <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-staleCh:
			return fmt.Errorf("instance %s: %w", h.instanceID, errdefs.ErrStaleInstance)
		default:
		}

		worked, err := h.claimOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[Worker] Claim pass failed: %v", err)
		}

		if worked {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-staleCh:
			return fmt.Errorf("instance %s: %w", h.instanceID, errdefs.ErrStaleInstance)
		case <-time.After(h.cfg.Jobs.PollInterval):
		}
	}
}

// claimOnce scans for one claimable item and executes it. Returns true when
// an item was executed, false when every matching job was drained.
func (h *Harness) claimOnce(ctx context.Context) (bool, error) {
	jobs, err := h.matchingJobs(ctx)
	if err != nil {
		return false, err
	}

	for _, job := range jobs {
		item, err := h.engine.ClaimItem(ctx, job.ID, h.instanceID)
		if err != nil {
			if errdefs.IsNoItem(err) {
				continue
			}
			return false, err
		}

		h.execute(ctx, job, item)
		return true, nil
	}

	return false, nil
}

// matchingJobs returns claimable jobs whose task this worker can execute.
func (h *Harness) matchingJobs(ctx context.Context) ([]*jobstore.Job, error) {
	if h.jobID != "" {
		job, err := h.engine.GetJob(ctx, h.jobID)
		if err != nil {
			return nil, err
		}
		if _, ok := h.capabilities[job.Task]; !ok {
			return nil, nil
		}
		return []*jobstore.Job{job}, nil
	}

	all, err := h.engine.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*jobstore.Job
	for _, job := range all {
		if job.Status != jobstore.JobStatusPending && job.Status != jobstore.JobStatusRunning {
			continue
		}
		if _, ok := h.capabilities[job.Task]; !ok {
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// execute dispatches one claimed item and resolves it.
func (h *Harness) execute(ctx context.Context, job *jobstore.Job, item *jobstore.JobItem) {
	h.busy.Store(true)
	defer h.busy.Store(false)

	fn := h.capabilities[job.Task]

	itemCtx := ctx
	if job.TimeoutPerItemMs > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutPerItemMs)*time.Millisecond)
		defer cancel()
	}

	output, err := fn(itemCtx, item)
	if err != nil {
		willRetry, failErr := h.engine.FailItem(ctx, job.ID, item.ID, err.Error())
		if failErr != nil {
			log.Printf("[Worker] Failed to resolve item %s as failed: %v", item.ID, failErr)
			return
		}
		log.Printf("[Worker] Item %s failed (retry=%v): %v", item.ID, willRetry, err)
		return
	}

	if err := h.engine.CompleteItem(ctx, job.ID, item.ID, output); err != nil {
		log.Printf("[Worker] Failed to resolve item %s as completed: %v", item.ID, err)
	}
}
