// Package jobstore owns the Job and JobItem lifecycle, including the
// concurrency-safe claim protocol. Every state transition that touches both
// an item and the credit ledger runs as a single server-side script, so the
// protocol is correct under arbitrary interleavings across processes, not
// just goroutines.
package jobstore

import "fmt"

// Job represents one unit-of-work batch created by an orchestrator.
type Job struct {
	ID                     string    `json:"id"`
	OrchestratorInstanceID string    `json:"orchestrator_instance_id"`
	TenantID               string    `json:"tenant_id"`
	Task                   string    `json:"task"`   // Capability executed per item
	Config                 string    `json:"config"` // Opaque task configuration
	Status                 JobStatus `json:"status"`
	TotalItems             int       `json:"total_items"`
	CompletedItems         int       `json:"completed_items"`
	FailedItems            int       `json:"failed_items"`
	CancelledItems         int       `json:"cancelled_items"`
	CreditsReserved        int64     `json:"credits_reserved"`
	CreditsSpent           int64     `json:"credits_spent"`
	CreditsRefunded        int64     `json:"credits_refunded"`
	CreditsRemaining       int64     `json:"credits_remaining"` // Unsettled portion of the reservation
	PerItemCost            int64     `json:"per_item_cost"`
	JobOverhead            int64     `json:"job_overhead"`
	Parallelism            int       `json:"parallelism"`
	TimeoutPerItemMs       int64     `json:"timeout_per_item_ms"`
	MaxRetries             int       `json:"max_retries"`
	CreatedAtMs            int64     `json:"created_at_ms"`
	CompletedAtMs          int64     `json:"completed_at_ms"`
}

// JobStatus defines the lifecycle state of a job.
type JobStatus string

const (
	// JobStatusPending indicates no item has been claimed yet.
	JobStatusPending JobStatus = "pending"

	// JobStatusRunning indicates at least one item has been claimed.
	JobStatusRunning JobStatus = "running"

	// JobStatusCompleted indicates every item resolved and at least one completed.
	JobStatusCompleted JobStatus = "completed"

	// JobStatusFailed indicates every item resolved and all of them failed.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the job was explicitly cancelled.
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job status is terminal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Validate checks if the JobStatus is a valid enum value.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown job status: %q", s)
	}
}

// JobItem represents one element of a job's input set.
type JobItem struct {
	ID               string     `json:"id"`
	JobID            string     `json:"job_id"`
	ItemIndex        int        `json:"item_index"` // Stable FIFO ordering key
	Input            string     `json:"input"`
	Output           string     `json:"output"`
	WorkerInstanceID string     `json:"worker_instance_id"` // Current claimant, empty when unclaimed
	Status           ItemStatus `json:"status"`
	ClaimedAtMs      int64      `json:"claimed_at_ms"`
	CompletedAtMs    int64      `json:"completed_at_ms"`
	ErrorMessage     string     `json:"error_message"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	CreatedAtMs      int64      `json:"created_at_ms"`
}

// ItemStatus defines the lifecycle state of a job item.
type ItemStatus string

const (
	// ItemStatusPending indicates the item is claimable.
	ItemStatusPending ItemStatus = "pending"

	// ItemStatusClaimed indicates exactly one worker holds the item.
	ItemStatusClaimed ItemStatus = "claimed"

	// ItemStatusCompleted indicates the item resolved successfully.
	ItemStatusCompleted ItemStatus = "completed"

	// ItemStatusFailed indicates the item exhausted its retries.
	ItemStatusFailed ItemStatus = "failed"

	// ItemStatusCancelled indicates the item was cancelled before being claimed.
	ItemStatusCancelled ItemStatus = "cancelled"
)

// Terminal reports whether the item status is terminal.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled:
		return true
	default:
		return false
	}
}

// Validate checks if the ItemStatus is a valid enum value.
func (s ItemStatus) Validate() error {
	switch s {
	case ItemStatusPending, ItemStatusClaimed, ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown item status: %q", s)
	}
}

// CreateJobRequest describes a job to materialize.
type CreateJobRequest struct {
	OrchestratorInstanceID string
	TenantID               string
	Task                   string
	Config                 string
	Items                  []string // One input payload per item
	Parallelism            int
	TimeoutPerItemMs       int64
	MaxRetries             int
}

// Validate checks if the CreateJobRequest has valid field values.
func (r *CreateJobRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}

	if r.Task == "" {
		return fmt.Errorf("task cannot be empty")
	}

	if r.Parallelism < 0 {
		return fmt.Errorf("parallelism cannot be negative")
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	return nil
}

// SimulateRequest describes a job to estimate without side effects.
type SimulateRequest struct {
	TenantID    string
	Task        string
	ItemCount   int
	Parallelism int
}

// Feasibility is the result of a job simulation.
type Feasibility struct {
	Feasible            bool     `json:"feasible"`
	EstimatedCredits    int64    `json:"estimated_credits"`
	AvailableCredits    int64    `json:"available_credits"`
	EstimatedDurationMs int64    `json:"estimated_duration_ms"`
	Risks               []string `json:"risks"`
}

// CancelResult reports the outcome of a job cancellation.
type CancelResult struct {
	CancelledItems  int   `json:"cancelled_items"`
	CreditsRefunded int64 `json:"credits_refunded"`
}
