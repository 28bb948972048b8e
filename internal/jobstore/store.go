package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/errdefs"
	"github.com/droverdev/drover/internal/ledger"
	"github.com/droverdev/drover/internal/registry"
)

// Store provides instance-scoped Redis operations for jobs and job items.
// The store is thread-safe and can be used concurrently from multiple goroutines.
type Store struct {
	rdb          *redis.Client
	instanceName string
	cfg          *config.Config
	credits      *ledger.Client
}

// New creates a job store on an existing Redis connection.
// Returns an error if instanceName is empty.
func New(rdb *redis.Client, instanceName string, cfg *config.Config) (*Store, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	credits, err := ledger.New(rdb, instanceName)
	if err != nil {
		return nil, err
	}

	return &Store{
		rdb:          rdb,
		instanceName: instanceName,
		cfg:          cfg,
		credits:      credits,
	}, nil
}

// Simulate estimates cost, duration, and risks for a prospective job without
// touching any state. Orchestrators call this to abort before side effects.
func (s *Store) Simulate(ctx context.Context, req SimulateRequest) (*Feasibility, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant ID cannot be empty")
	}
	if req.Task == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}

	perItem := s.cfg.ItemCost(req.Task)
	estimated := s.cfg.Credits.JobOverhead + perItem*int64(req.ItemCount)

	available, err := s.credits.Balance(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	parallelism := req.Parallelism
	if parallelism < 1 {
		parallelism = s.cfg.Jobs.DefaultParallelism
	}

	latency := s.cfg.ItemLatencyMs(req.Task)
	var durationMs int64
	if req.ItemCount > 0 && latency > 0 {
		waves := (req.ItemCount + parallelism - 1) / parallelism
		durationMs = int64(waves) * latency
	}

	risks := []string{}
	if available < estimated {
		risks = append(risks, fmt.Sprintf("estimated cost %d exceeds available credit %d", estimated, available))
	}
	if _, known := s.cfg.Credits.Costs[req.Task]; !known {
		risks = append(risks, fmt.Sprintf("no cost configured for capability %q, using default of %d", req.Task, perItem))
	}
	if req.ItemCount == 0 {
		risks = append(risks, "job has no items and will complete immediately")
	}
	if req.ItemCount > 0 && parallelism > req.ItemCount {
		risks = append(risks, fmt.Sprintf("parallelism %d exceeds item count %d", parallelism, req.ItemCount))
	}

	return &Feasibility{
		Feasible:            available >= estimated,
		EstimatedCredits:    estimated,
		AvailableCredits:    available,
		EstimatedDurationMs: durationMs,
		Risks:               risks,
	}, nil
}

// CreateJob reserves credits and materializes the job and its items in one
// atomic step. Insufficient credit aborts before any row is written. A
// zero-item job completes immediately, reserving and charging only the
// overhead.
func (s *Store) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid create request: %w", err)
	}

	now := time.Now().UnixMilli()
	perItem := s.cfg.ItemCost(req.Task)
	overhead := s.cfg.Credits.JobOverhead
	reserved := overhead + perItem*int64(len(req.Items))

	parallelism := req.Parallelism
	if parallelism < 1 {
		parallelism = s.cfg.Jobs.DefaultParallelism
	}

	job := &Job{
		ID:                     uuid.New().String(),
		OrchestratorInstanceID: req.OrchestratorInstanceID,
		TenantID:               req.TenantID,
		Task:                   req.Task,
		Config:                 req.Config,
		Status:                 JobStatusPending,
		TotalItems:             len(req.Items),
		CreditsReserved:        reserved,
		CreditsRemaining:       reserved,
		PerItemCost:            perItem,
		JobOverhead:            overhead,
		Parallelism:            parallelism,
		TimeoutPerItemMs:       req.TimeoutPerItemMs,
		MaxRetries:             req.MaxRetries,
		CreatedAtMs:            now,
	}

	// A job with nothing to do settles at creation time.
	overheadRow := ""
	if len(req.Items) == 0 {
		job.Status = JobStatusCompleted
		job.CompletedAtMs = now
		job.CreditsSpent = overhead
		job.CreditsRemaining = 0
		row, err := ledger.MarshalRow(&ledger.Entry{
			TenantID:    req.TenantID,
			JobID:       job.ID,
			Skill:       req.Task,
			Operation:   ledger.OperationCharge,
			Amount:      overhead,
			Context:     "job overhead",
			CreatedAtMs: now,
		})
		if err != nil {
			return nil, err
		}
		overheadRow = row
	}

	reserveRow, err := ledger.MarshalRow(&ledger.Entry{
		TenantID:    req.TenantID,
		JobID:       job.ID,
		Operation:   ledger.OperationReserve,
		Amount:      reserved,
		CreatedAtMs: now,
	})
	if err != nil {
		return nil, err
	}

	items := make([]map[string]string, len(req.Items))
	for i, input := range req.Items {
		item := &JobItem{
			ID:          uuid.New().String(),
			JobID:       job.ID,
			ItemIndex:   i,
			Input:       input,
			Status:      ItemStatusPending,
			MaxRetries:  req.MaxRetries,
			CreatedAtMs: now,
		}
		items[i] = StringifyHash(ItemToHash(item))
	}

	jobFields, err := json.Marshal(StringifyHash(JobToHash(job)))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job fields: %w", err)
	}
	itemFields, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item fields: %w", err)
	}

	result, err := createJobScript.Run(ctx, s.rdb,
		[]string{
			ledger.BalanceKey(s.instanceName, req.TenantID),
			ledger.EntriesKey(s.instanceName, req.TenantID),
			JobKey(s.instanceName, job.ID),
			PendingKey(s.instanceName, job.ID),
			ItemsKey(s.instanceName, job.ID),
			JobSetKey(s.instanceName),
		},
		reserved, reserveRow, string(jobFields), string(itemFields),
		ItemKeyPrefix(s.instanceName), job.ID, overheadRow,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if result == "insufficient" {
		return nil, fmt.Errorf("reserving %d credits for tenant %s: %w",
			reserved, req.TenantID, errdefs.ErrInsufficientCredit)
	}

	return job, nil
}

// GetJob retrieves a job by ID.
// Returns errdefs.ErrNotFound if the job doesn't exist.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	hashData, err := s.rdb.HGetAll(ctx, JobKey(s.instanceName, jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, errdefs.ErrNotFound)
	}

	return HashToJob(hashData), nil
}

// GetItem retrieves a job item by ID.
// Returns errdefs.ErrNotFound if the item doesn't exist.
func (s *Store) GetItem(ctx context.Context, itemID string) (*JobItem, error) {
	hashData, err := s.rdb.HGetAll(ctx, ItemKey(s.instanceName, itemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read item: %w", err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("item %s: %w", itemID, errdefs.ErrNotFound)
	}

	return HashToItem(hashData), nil
}

// ListItems returns every item of a job ordered by item_index.
func (s *Store) ListItems(ctx context.Context, jobID string) ([]*JobItem, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}

	ids, err := s.rdb.ZRange(ctx, ItemsKey(s.instanceName, jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]*JobItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// ListJobs returns every job, unordered.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	ids, err := s.rdb.SMembers(ctx, JobSetKey(s.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Claim hands the FIFO-next pending item of a job to the worker, or returns
// errdefs.ErrNoItem when nothing is claimable. Among concurrent claimants
// each pending item is handed to exactly one caller; the call never blocks.
func (s *Store) Claim(ctx context.Context, jobID, workerInstanceID string) (*JobItem, error) {
	if workerInstanceID == "" {
		return nil, fmt.Errorf("worker instance ID cannot be empty")
	}

	now := time.Now().UnixMilli()
	result, err := claimScript.Run(ctx, s.rdb,
		[]string{
			JobKey(s.instanceName, jobID),
			PendingKey(s.instanceName, jobID),
			registry.InstanceKey(s.instanceName, workerInstanceID),
			registry.ClaimsKey(s.instanceName, workerInstanceID),
		},
		workerInstanceID, now, ItemKeyPrefix(s.instanceName), jobID,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim item: %w", err)
	}

	switch result[0] {
	case "ok":
		return s.GetItem(ctx, result[1])
	case "empty", "closed":
		// A cancelled or settled job simply has nothing to claim.
		return nil, fmt.Errorf("job %s: %w", jobID, errdefs.ErrNoItem)
	case "not_found":
		return nil, fmt.Errorf("job %s: %w", jobID, errdefs.ErrNotFound)
	case "no_worker":
		return nil, fmt.Errorf("worker %s: %w", workerInstanceID, errdefs.ErrNotFound)
	default: // stale_worker
		return nil, fmt.Errorf("worker %s: %w", workerInstanceID, errdefs.ErrStaleInstance)
	}
}

// Complete resolves a claimed item successfully, stores its output, posts the
// item's charge against the job's reserved pool, and settles the job when
// this was the last unresolved item. Calling Complete on an already-terminal
// item returns errdefs.ErrInvalidTransition and posts nothing.
func (s *Store) Complete(ctx context.Context, jobID, itemID, output string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	chargeRow, err := ledger.MarshalRow(&ledger.Entry{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Skill:       job.Task,
		Operation:   ledger.OperationCharge,
		Amount:      job.PerItemCost,
		Context:     itemID,
		CreatedAtMs: now,
	})
	if err != nil {
		return err
	}
	overheadRow, err := s.overheadRow(job, now)
	if err != nil {
		return err
	}

	result, err := completeScript.Run(ctx, s.rdb,
		[]string{
			JobKey(s.instanceName, jobID),
			ItemKey(s.instanceName, itemID),
			ledger.EntriesKey(s.instanceName, job.TenantID),
		},
		output, now, chargeRow, overheadRow,
		AgentClaimsPrefix(s.instanceName), jobID+"/"+itemID,
	).StringSlice()
	if err != nil {
		return fmt.Errorf("failed to complete item: %w", err)
	}

	switch result[0] {
	case "ok":
		return nil
	case "not_found":
		return fmt.Errorf("item %s: %w", itemID, errdefs.ErrNotFound)
	case "insufficient":
		return fmt.Errorf("charging %d credits against job %s: %w",
			job.PerItemCost, jobID, errdefs.ErrInsufficientCredit)
	default: // conflict
		return fmt.Errorf("item %s is %s, not claimed: %w", itemID, result[1], errdefs.ErrInvalidTransition)
	}
}

// Fail resolves a failed execution attempt. Returns willRetry=true when the
// item went back to pending for another attempt. At the retry budget the
// item fails permanently and its unspent reservation is refunded. Calling
// Fail on an already-terminal item returns errdefs.ErrInvalidTransition.
func (s *Store) Fail(ctx context.Context, jobID, itemID, errorMessage string) (bool, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}

	now := time.Now().UnixMilli()
	refundRow, err := ledger.MarshalRow(&ledger.Entry{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Operation:   ledger.OperationRefund,
		Amount:      job.PerItemCost,
		Context:     itemID,
		CreatedAtMs: now,
	})
	if err != nil {
		return false, err
	}
	overheadRow, err := s.overheadRow(job, now)
	if err != nil {
		return false, err
	}

	result, err := failScript.Run(ctx, s.rdb,
		[]string{
			JobKey(s.instanceName, jobID),
			ItemKey(s.instanceName, itemID),
			ledger.EntriesKey(s.instanceName, job.TenantID),
			ledger.BalanceKey(s.instanceName, job.TenantID),
			PendingKey(s.instanceName, jobID),
		},
		errorMessage, now, refundRow, overheadRow,
		AgentClaimsPrefix(s.instanceName), jobID+"/"+itemID, itemID,
	).StringSlice()
	if err != nil {
		return false, fmt.Errorf("failed to fail item: %w", err)
	}

	switch result[0] {
	case "retry":
		return true, nil
	case "failed":
		return false, nil
	case "not_found":
		return false, fmt.Errorf("item %s: %w", itemID, errdefs.ErrNotFound)
	default: // conflict
		return false, fmt.Errorf("item %s is %s, not claimed: %w", itemID, result[1], errdefs.ErrInvalidTransition)
	}
}

// Cancel transitions a job to cancelled: every still-pending item becomes
// cancelled and their portion of the reservation is refunded in one atomic
// step. Claimed items resolve naturally later; cancellation only stops new
// claims. Cancelling an already-terminal job returns
// errdefs.ErrInvalidTransition.
func (s *Store) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	refundEntry := &ledger.Entry{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Operation:   ledger.OperationRefund,
		Amount:      0, // Placeholder; the script substitutes the real amount
		Context:     "job cancelled",
		CreatedAtMs: now,
	}
	refundTemplate, err := ledger.MarshalRow(refundEntry)
	if err != nil {
		return nil, err
	}
	refundTemplate = strings.Replace(refundTemplate, `"amount":0`, `"amount":@amount@`, 1)

	overheadRow, err := s.overheadRow(job, now)
	if err != nil {
		return nil, err
	}

	result, err := cancelScript.Run(ctx, s.rdb,
		[]string{
			JobKey(s.instanceName, jobID),
			PendingKey(s.instanceName, jobID),
			ledger.EntriesKey(s.instanceName, job.TenantID),
			ledger.BalanceKey(s.instanceName, job.TenantID),
		},
		now, ItemKeyPrefix(s.instanceName), refundTemplate, overheadRow,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	if code, ok := result[0].(string); ok {
		if code == "not_found" {
			return nil, fmt.Errorf("job %s: %w", jobID, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("job %s is already terminal: %w", jobID, errdefs.ErrInvalidTransition)
	}

	cancelled, _ := result[0].(int64)
	refunded, _ := result[1].(int64)
	return &CancelResult{
		CancelledItems:  int(cancelled),
		CreditsRefunded: refunded,
	}, nil
}

// ReleaseClaims returns every item a worker still holds to pending, so other
// workers can pick them up. Used on deregistration and by the stale sweep.
func (s *Store) ReleaseClaims(ctx context.Context, workerInstanceID string) (int, error) {
	if workerInstanceID == "" {
		return 0, fmt.Errorf("worker instance ID cannot be empty")
	}

	released, err := releaseClaimsScript.Run(ctx, s.rdb,
		[]string{registry.ClaimsKey(s.instanceName, workerInstanceID)},
		ItemKeyPrefix(s.instanceName), JobKeyPrefix(s.instanceName), workerInstanceID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to release claims: %w", err)
	}

	return released, nil
}

// overheadRow serializes the charge row posted when a job settles.
func (s *Store) overheadRow(job *Job, nowMs int64) (string, error) {
	return ledger.MarshalRow(&ledger.Entry{
		TenantID:    job.TenantID,
		JobID:       job.ID,
		Skill:       job.Task,
		Operation:   ledger.OperationCharge,
		Amount:      job.JobOverhead,
		Context:     "job overhead",
		CreatedAtMs: nowMs,
	})
}
