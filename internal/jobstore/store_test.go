package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/errdefs"
	"github.com/droverdev/drover/internal/ledger"
	"github.com/droverdev/drover/internal/registry"
)

type testEnv struct {
	store   *Store
	credits *ledger.Client
	agents  *registry.Client
	rdb     *redis.Client
}

// setupTestStore creates a store backed by miniredis with a known cost table.
func setupTestStore(t *testing.T) *testEnv {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.Default()
	cfg.Credits.JobOverhead = 5
	cfg.Credits.DefaultItemCost = 1
	cfg.Credits.Costs = map[string]int64{"summarize": 10}
	cfg.Credits.LatencyEstimatesMs = map[string]int64{"summarize": 1000}

	store, err := New(rdb, "test-instance", cfg)
	require.NoError(t, err)

	credits, err := ledger.New(rdb, "test-instance")
	require.NoError(t, err)

	agents, err := registry.New(rdb, "test-instance")
	require.NoError(t, err)

	return &testEnv{store: store, credits: credits, agents: agents, rdb: rdb}
}

// fund grants credits to a tenant.
func (env *testEnv) fund(t *testing.T, tenantID string, amount int64) {
	t.Helper()
	_, err := env.credits.Grant(context.Background(), tenantID, amount, "test funding")
	require.NoError(t, err)
}

// worker registers a live worker instance and returns its ID.
func (env *testEnv) worker(t *testing.T) string {
	t.Helper()
	instance, err := env.agents.Register(context.Background(), "worker", []string{"summarize"}, "")
	require.NoError(t, err)
	return instance.InstanceID
}

// createJob funds the tenant and creates a summarize job with n items.
func (env *testEnv) createJob(t *testing.T, n int, maxRetries int) *Job {
	t.Helper()
	env.fund(t, "tenant-1", 1000)

	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("input-%d", i)
	}

	job, err := env.store.CreateJob(context.Background(), CreateJobRequest{
		TenantID:   "tenant-1",
		Task:       "summarize",
		Items:      items,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	return job
}

// conservation asserts reserved = charges + refunds over a job's ledger rows.
func (env *testEnv) conservation(t *testing.T, tenantID, jobID string) {
	t.Helper()
	entries, err := env.credits.JobEntries(context.Background(), tenantID, jobID)
	require.NoError(t, err)

	var reserved, charged, refunded int64
	for _, entry := range entries {
		switch entry.Operation {
		case ledger.OperationReserve:
			reserved += entry.Amount
		case ledger.OperationCharge:
			charged += entry.Amount
		case ledger.OperationRefund:
			refunded += entry.Amount
		}
	}

	assert.Equal(t, reserved, charged+refunded,
		"reserved credits must equal charges plus refunds at terminal")
}

func TestSimulate(t *testing.T) {
	env := setupTestStore(t)
	ctx := context.Background()

	env.fund(t, "tenant-1", 100)

	t.Run("feasible job", func(t *testing.T) {
		report, err := env.store.Simulate(ctx, SimulateRequest{
			TenantID:    "tenant-1",
			Task:        "summarize",
			ItemCount:   4,
			Parallelism: 2,
		})
		require.NoError(t, err)

		assert.True(t, report.Feasible)
		assert.Equal(t, int64(45), report.EstimatedCredits) // 5 + 4*10
		assert.Equal(t, int64(100), report.AvailableCredits)
		assert.Equal(t, int64(2000), report.EstimatedDurationMs) // 2 waves * 1000ms
		assert.Empty(t, report.Risks)
	})

	t.Run("infeasible job reports the shortfall", func(t *testing.T) {
		report, err := env.store.Simulate(ctx, SimulateRequest{
			TenantID:  "tenant-1",
			Task:      "summarize",
			ItemCount: 50,
		})
		require.NoError(t, err)

		assert.False(t, report.Feasible)
		assert.NotEmpty(t, report.Risks)
	})

	t.Run("unknown capability warns and uses the default cost", func(t *testing.T) {
		report, err := env.store.Simulate(ctx, SimulateRequest{
			TenantID:  "tenant-1",
			Task:      "mystery",
			ItemCount: 2,
		})
		require.NoError(t, err)

		assert.Equal(t, int64(7), report.EstimatedCredits) // 5 + 2*1
		assert.NotEmpty(t, report.Risks)
	})

	t.Run("simulation writes nothing", func(t *testing.T) {
		balance, err := env.credits.Balance(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		entries, err := env.credits.Entries(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Len(t, entries, 1) // only the grant
	})
}

func TestCreateJob(t *testing.T) {
	t.Run("reserves credits and materializes items", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 3, 1)

		assert.Equal(t, JobStatusPending, job.Status)
		assert.Equal(t, int64(35), job.CreditsReserved) // 5 + 3*10
		assert.Equal(t, int64(35), job.CreditsRemaining)

		balance, err := env.credits.Balance(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(965), balance)

		items, err := env.store.ListItems(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, items, 3)
		for i, item := range items {
			assert.Equal(t, i, item.ItemIndex)
			assert.Equal(t, fmt.Sprintf("input-%d", i), item.Input)
			assert.Equal(t, ItemStatusPending, item.Status)
			assert.Equal(t, 1, item.MaxRetries)
		}
	})

	t.Run("insufficient credit aborts before any row", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		env.fund(t, "tenant-poor", 20)

		_, err := env.store.CreateJob(ctx, CreateJobRequest{
			TenantID: "tenant-poor",
			Task:     "summarize",
			Items:    []string{"a", "b"}, // needs 25
		})
		assert.True(t, errdefs.IsInsufficientCredit(err))

		balance, err := env.credits.Balance(ctx, "tenant-poor")
		require.NoError(t, err)
		assert.Equal(t, int64(20), balance)

		jobs, err := env.store.ListJobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("zero-item job completes immediately", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		env.fund(t, "tenant-1", 100)

		job, err := env.store.CreateJob(ctx, CreateJobRequest{
			TenantID: "tenant-1",
			Task:     "summarize",
			Items:    nil,
		})
		require.NoError(t, err)

		assert.Equal(t, JobStatusCompleted, job.Status)
		assert.Equal(t, int64(5), job.CreditsReserved) // overhead only

		stored, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusCompleted, stored.Status)
		assert.Equal(t, int64(5), stored.CreditsSpent)
		assert.Equal(t, int64(0), stored.CreditsRemaining)

		env.conservation(t, "tenant-1", job.ID)
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		_, err := env.store.CreateJob(ctx, CreateJobRequest{Task: "summarize"})
		assert.Error(t, err)

		_, err = env.store.CreateJob(ctx, CreateJobRequest{TenantID: "t"})
		assert.Error(t, err)
	})
}

func TestClaim(t *testing.T) {
	t.Run("claims follow item index order", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 3, 0)
		worker := env.worker(t)

		for want := 0; want < 3; want++ {
			item, err := env.store.Claim(ctx, job.ID, worker)
			require.NoError(t, err)
			assert.Equal(t, want, item.ItemIndex)
			assert.Equal(t, ItemStatusClaimed, item.Status)
			assert.Equal(t, worker, item.WorkerInstanceID)
			assert.Greater(t, item.ClaimedAtMs, int64(0))
		}

		_, err := env.store.Claim(ctx, job.ID, worker)
		assert.True(t, errdefs.IsNoItem(err))
	})

	t.Run("first claim flips the job to running", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 2, 0)
		worker := env.worker(t)

		_, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)

		stored, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusRunning, stored.Status)
	})

	t.Run("each item goes to exactly one concurrent claimant", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 5, 0)

		workers := make([]string, 8)
		for i := range workers {
			workers[i] = env.worker(t)
		}

		var mu sync.Mutex
		claimed := map[string]string{} // itemID -> workerID
		var wg sync.WaitGroup

		for _, worker := range workers {
			wg.Add(1)
			go func(worker string) {
				defer wg.Done()
				for {
					item, err := env.store.Claim(ctx, job.ID, worker)
					if err != nil {
						return
					}
					mu.Lock()
					previous, seen := claimed[item.ID]
					claimed[item.ID] = worker
					mu.Unlock()
					if seen {
						t.Errorf("item %s claimed twice: %s and %s", item.ID, previous, worker)
					}
				}
			}(worker)
		}
		wg.Wait()

		assert.Len(t, claimed, 5)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		env := setupTestStore(t)
		worker := env.worker(t)

		_, err := env.store.Claim(context.Background(), "nope", worker)
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("unregistered worker cannot claim", func(t *testing.T) {
		env := setupTestStore(t)
		job := env.createJob(t, 1, 0)

		_, err := env.store.Claim(context.Background(), job.ID, "ghost-000000000000")
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("stopped worker cannot claim", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 0)
		worker := env.worker(t)
		require.NoError(t, env.agents.Deregister(ctx, worker))

		_, err := env.store.Claim(ctx, job.ID, worker)
		assert.True(t, errdefs.IsStaleInstance(err))
	})

	t.Run("cancelled job has nothing to claim", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 2, 0)
		worker := env.worker(t)

		_, err := env.store.Cancel(ctx, job.ID)
		require.NoError(t, err)

		_, err = env.store.Claim(ctx, job.ID, worker)
		assert.True(t, errdefs.IsNoItem(err))
	})
}

func TestComplete(t *testing.T) {
	t.Run("charges the item cost and stores the output", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 2, 0)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)

		require.NoError(t, env.store.Complete(ctx, job.ID, item.ID, "summary text"))

		stored, err := env.store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, ItemStatusCompleted, stored.Status)
		assert.Equal(t, "summary text", stored.Output)

		updated, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, updated.CompletedItems)
		assert.Equal(t, int64(10), updated.CreditsSpent)
		assert.Equal(t, JobStatusRunning, updated.Status) // one item left
	})

	t.Run("second complete is an invalid transition with no second charge", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 0)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)
		require.NoError(t, env.store.Complete(ctx, job.ID, item.ID, "out"))

		err = env.store.Complete(ctx, job.ID, item.ID, "out again")
		assert.True(t, errdefs.IsInvalidTransition(err))

		entries, err := env.credits.JobEntries(ctx, "tenant-1", job.ID)
		require.NoError(t, err)

		var charges int
		for _, entry := range entries {
			if entry.Operation == ledger.OperationCharge {
				charges++
			}
		}
		assert.Equal(t, 2, charges) // item charge + overhead, nothing doubled
	})

	t.Run("charge beyond the job pool fails closed", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 2, 0)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)

		// Drain the reserved pool out from under the claimant.
		require.NoError(t, env.rdb.HSet(ctx,
			JobKey("test-instance", job.ID), "credits_remaining", 0).Err())

		err = env.store.Complete(ctx, job.ID, item.ID, "out")
		assert.True(t, errdefs.IsInsufficientCredit(err))

		// The item did not transition and no charge row was posted.
		held, err := env.store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, ItemStatusClaimed, held.Status)
		assert.Empty(t, held.Output)

		entries, err := env.credits.JobEntries(ctx, "tenant-1", job.ID)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.NotEqual(t, ledger.OperationCharge, entry.Operation)
		}
	})

	t.Run("completing the last item settles the job", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 0)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)
		require.NoError(t, env.store.Complete(ctx, job.ID, item.ID, "out"))

		settled, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusCompleted, settled.Status)
		assert.Greater(t, settled.CompletedAtMs, int64(0))
		assert.Equal(t, int64(15), settled.CreditsSpent) // item + overhead
		assert.Equal(t, int64(0), settled.CreditsRemaining)

		env.conservation(t, "tenant-1", job.ID)
	})
}

func TestFail(t *testing.T) {
	t.Run("requeues below the retry budget with no ledger effect", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 1)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)

		willRetry, err := env.store.Fail(ctx, job.ID, item.ID, "boom")
		require.NoError(t, err)
		assert.True(t, willRetry)

		requeued, err := env.store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, ItemStatusPending, requeued.Status)
		assert.Equal(t, 1, requeued.RetryCount)
		assert.Equal(t, "boom", requeued.ErrorMessage)
		assert.Empty(t, requeued.WorkerInstanceID)

		entries, err := env.credits.JobEntries(ctx, "tenant-1", job.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1) // only the reserve
	})

	t.Run("the retry after the budget is final", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 1)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)
		willRetry, err := env.store.Fail(ctx, job.ID, item.ID, "first")
		require.NoError(t, err)
		require.True(t, willRetry)

		item, err = env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)
		willRetry, err = env.store.Fail(ctx, job.ID, item.ID, "second")
		require.NoError(t, err)
		assert.False(t, willRetry)

		failed, err := env.store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, ItemStatusFailed, failed.Status)

		settled, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, settled.Status) // 100% failed
		assert.Equal(t, 1, settled.FailedItems)

		env.conservation(t, "tenant-1", job.ID)
	})

	t.Run("max retries zero means first failure is final", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 0)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)

		willRetry, err := env.store.Fail(ctx, job.ID, item.ID, "boom")
		require.NoError(t, err)
		assert.False(t, willRetry)
	})

	t.Run("fail on a terminal item is an invalid transition", func(t *testing.T) {
		env := setupTestStore(t)
		ctx := context.Background()

		job := env.createJob(t, 1, 0)
		worker := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)
		require.NoError(t, env.store.Complete(ctx, job.ID, item.ID, "out"))

		_, err = env.store.Fail(ctx, job.ID, item.ID, "late failure")
		assert.True(t, errdefs.IsInvalidTransition(err))
	})
}

// TestMixedOutcome walks a 3-item job through two completions and one
// permanent failure and checks counts, terminal status, and conservation.
// TestMixedOutcome walks a 3-item job with a retry budget of one: the first
// item completes outright, the second fails once then completes, the third
// fails twice and is final.
func TestMixedOutcome(t *testing.T) {
	env := setupTestStore(t)
	ctx := context.Background()

	job := env.createJob(t, 3, 1)
	worker := env.worker(t)

	first, err := env.store.Claim(ctx, job.ID, worker)
	require.NoError(t, err)
	require.NoError(t, env.store.Complete(ctx, job.ID, first.ID, "out-0"))

	second, err := env.store.Claim(ctx, job.ID, worker)
	require.NoError(t, err)
	willRetry, err := env.store.Fail(ctx, job.ID, second.ID, "flaky input")
	require.NoError(t, err)
	require.True(t, willRetry)

	// The requeued item is the lowest pending index, so it comes back first.
	again, err := env.store.Claim(ctx, job.ID, worker)
	require.NoError(t, err)
	require.Equal(t, second.ID, again.ID)
	require.NoError(t, env.store.Complete(ctx, job.ID, again.ID, "out-1"))

	third, err := env.store.Claim(ctx, job.ID, worker)
	require.NoError(t, err)
	willRetry, err = env.store.Fail(ctx, job.ID, third.ID, "broken input")
	require.NoError(t, err)
	require.True(t, willRetry)

	third, err = env.store.Claim(ctx, job.ID, worker)
	require.NoError(t, err)
	willRetry, err = env.store.Fail(ctx, job.ID, third.ID, "broken input")
	require.NoError(t, err)
	require.False(t, willRetry)

	settled, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, settled.Status) // not 100% failed
	assert.Equal(t, 2, settled.CompletedItems)
	assert.Equal(t, 1, settled.FailedItems)
	assert.Equal(t, int64(25), settled.CreditsSpent)    // 2 items + overhead
	assert.Equal(t, int64(10), settled.CreditsRefunded) // the failed item

	// 35 reserved: 965 after create, failed item's 10 came back.
	balance, err := env.credits.Balance(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(975), balance)

	env.conservation(t, "tenant-1", job.ID)
}

// TestCancel walks the 10-item cancellation scenario: 3 claimed, 7 pending.
func TestCancel(t *testing.T) {
	env := setupTestStore(t)
	ctx := context.Background()

	job := env.createJob(t, 10, 0)
	worker := env.worker(t)

	claimed := make([]*JobItem, 3)
	for i := range claimed {
		item, err := env.store.Claim(ctx, job.ID, worker)
		require.NoError(t, err)
		claimed[i] = item
	}

	result, err := env.store.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, result.CancelledItems)
	assert.Equal(t, int64(70), result.CreditsRefunded)

	cancelled, err := env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, cancelled.Status)
	assert.Equal(t, 7, cancelled.CancelledItems)

	t.Run("cancel is not repeatable", func(t *testing.T) {
		_, err := env.store.Cancel(ctx, job.ID)
		assert.True(t, errdefs.IsInvalidTransition(err))
	})

	t.Run("claimed items resolve naturally", func(t *testing.T) {
		require.NoError(t, env.store.Complete(ctx, job.ID, claimed[0].ID, "out-a"))
		require.NoError(t, env.store.Complete(ctx, job.ID, claimed[1].ID, "out-b"))

		willRetry, err := env.store.Fail(ctx, job.ID, claimed[2].ID, "broken")
		require.NoError(t, err)
		assert.False(t, willRetry) // requeueing to a cancelled job is pointless

		final, err := env.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusCancelled, final.Status) // cancel sticks
		assert.Equal(t, 2, final.CompletedItems)

		env.conservation(t, "tenant-1", job.ID)
	})

	t.Run("refund row survives format characters in caller text", func(t *testing.T) {
		env := setupTestStore(t)
		tenant := "growth-50%"
		env.fund(t, tenant, 1000)

		job, err := env.store.CreateJob(ctx, CreateJobRequest{
			TenantID: tenant,
			Task:     "summarize",
			Items:    []string{"a", "b"},
		})
		require.NoError(t, err)

		result, err := env.store.Cancel(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, result.CancelledItems)
		assert.Equal(t, int64(20), result.CreditsRefunded)

		entries, err := env.credits.JobEntries(ctx, tenant, job.ID)
		require.NoError(t, err)

		var refund *ledger.Entry
		for _, entry := range entries {
			if entry.Operation == ledger.OperationRefund {
				refund = entry
			}
		}
		require.NotNil(t, refund)
		assert.Equal(t, int64(20), refund.Amount)
		assert.Equal(t, tenant, refund.TenantID)

		env.conservation(t, tenant, job.ID)
	})
}

func TestReleaseClaims(t *testing.T) {
	env := setupTestStore(t)
	ctx := context.Background()

	job := env.createJob(t, 3, 0)
	crashed := env.worker(t)

	first, err := env.store.Claim(ctx, job.ID, crashed)
	require.NoError(t, err)
	second, err := env.store.Claim(ctx, job.ID, crashed)
	require.NoError(t, err)

	released, err := env.store.ReleaseClaims(ctx, crashed)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	t.Run("items went back to pending untouched", func(t *testing.T) {
		for _, id := range []string{first.ID, second.ID} {
			item, err := env.store.GetItem(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, ItemStatusPending, item.Status)
			assert.Empty(t, item.WorkerInstanceID)
			assert.Equal(t, 0, item.RetryCount)
		}
	})

	t.Run("released items are claimable in index order", func(t *testing.T) {
		successor := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, successor)
		require.NoError(t, err)
		assert.Equal(t, first.ID, item.ID)
	})

	t.Run("resolved items are not requeued", func(t *testing.T) {
		finisher := env.worker(t)

		item, err := env.store.Claim(ctx, job.ID, finisher)
		require.NoError(t, err)
		require.NoError(t, env.store.Complete(ctx, job.ID, item.ID, "out"))

		released, err := env.store.ReleaseClaims(ctx, finisher)
		require.NoError(t, err)
		assert.Equal(t, 0, released)
	})

	t.Run("releasing with no claims is a no-op", func(t *testing.T) {
		released, err := env.store.ReleaseClaims(ctx, "worker-000000000000")
		require.NoError(t, err)
		assert.Equal(t, 0, released)
	})
}
