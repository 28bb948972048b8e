package leader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestElectors creates two electors on one miniredis instance.
func setupTestElectors(t *testing.T) (*Elector, *Elector, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	a, err := New(rdb, "test-instance", "engine-a")
	require.NoError(t, err)
	b, err := New(rdb, "test-instance", "engine-b")
	require.NoError(t, err)

	return a, b, mr
}

func TestAcquire(t *testing.T) {
	a, b, _ := setupTestElectors(t)
	ctx := context.Background()

	t.Run("only one holder per duty", func(t *testing.T) {
		lease, err := a.Acquire(ctx, "stale-sweep", time.Minute)
		require.NoError(t, err)
		defer lease.Release(ctx)

		_, err = b.Acquire(ctx, "stale-sweep", time.Minute)
		assert.ErrorIs(t, err, ErrNotLeader)

		holder, err := b.Holder(ctx, "stale-sweep")
		require.NoError(t, err)
		assert.Contains(t, holder, "engine-a/")
	})

	t.Run("duties are independent", func(t *testing.T) {
		sweepLease, err := a.Acquire(ctx, "stale-sweep", time.Minute)
		require.NoError(t, err)
		defer sweepLease.Release(ctx)

		archiveLease, err := b.Acquire(ctx, "queue-archiver", time.Minute)
		require.NoError(t, err)
		defer archiveLease.Release(ctx)
	})

	t.Run("rejects bad arguments", func(t *testing.T) {
		_, err := a.Acquire(ctx, "", time.Minute)
		assert.Error(t, err)

		_, err = a.Acquire(ctx, "duty", 0)
		assert.Error(t, err)
	})
}

func TestRelease(t *testing.T) {
	a, b, _ := setupTestElectors(t)
	ctx := context.Background()

	lease, err := a.Acquire(ctx, "stale-sweep", time.Minute)
	require.NoError(t, err)

	require.NoError(t, lease.Release(ctx))

	holder, err := a.Holder(ctx, "stale-sweep")
	require.NoError(t, err)
	assert.Empty(t, holder)

	// The duty is free for the next holder.
	next, err := b.Acquire(ctx, "stale-sweep", time.Minute)
	require.NoError(t, err)
	defer next.Release(ctx)

	// Releasing again is a no-op and cannot steal the successor's lease.
	require.NoError(t, lease.Release(ctx))
	holder, err = a.Holder(ctx, "stale-sweep")
	require.NoError(t, err)
	assert.Contains(t, holder, "engine-b/")
}

func TestLeaseExpiry(t *testing.T) {
	a, b, mr := setupTestElectors(t)
	ctx := context.Background()

	lease, err := a.Acquire(ctx, "stale-sweep", 10*time.Second)
	require.NoError(t, err)

	// The holder dies without releasing; the lease expires on its own.
	mr.FastForward(11 * time.Second)

	next, err := b.Acquire(ctx, "stale-sweep", time.Minute)
	require.NoError(t, err)
	defer next.Release(ctx)

	// The expired holder's release cannot touch the successor's lease.
	require.NoError(t, lease.Release(ctx))
	holder, err := a.Holder(ctx, "stale-sweep")
	require.NoError(t, err)
	assert.Contains(t, holder, "engine-b/")
}

func TestWithDuty(t *testing.T) {
	a, b, _ := setupTestElectors(t)
	ctx := context.Background()

	t.Run("runs fn while holding the lease", func(t *testing.T) {
		ran := false
		err := a.WithDuty(ctx, "stale-sweep", time.Minute, func(ctx context.Context) error {
			ran = true
			held, err := a.Holder(ctx, "stale-sweep")
			require.NoError(t, err)
			assert.Contains(t, held, "engine-a/")
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		// Released on the way out.
		holder, err := a.Holder(ctx, "stale-sweep")
		require.NoError(t, err)
		assert.Empty(t, holder)
	})

	t.Run("losing the election is not an error", func(t *testing.T) {
		lease, err := a.Acquire(ctx, "stale-sweep", time.Minute)
		require.NoError(t, err)
		defer lease.Release(ctx)

		ran := false
		err = b.WithDuty(ctx, "stale-sweep", time.Minute, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("releases even when fn fails", func(t *testing.T) {
		boom := errors.New("boom")
		err := a.WithDuty(ctx, "queue-archiver", time.Minute, func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)

		holder, err := a.Holder(ctx, "queue-archiver")
		require.NoError(t, err)
		assert.Empty(t, holder)
	})
}
