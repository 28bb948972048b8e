// Package leader provides duty-scoped leader election over a Redis lease.
//
// A duty is a named singleton responsibility, such as the staleness sweep.
// At most one holder exists per duty at a time; the lease expires on its own
// if the holder dies, so a crashed leader never wedges the duty. Fencing is
// by random token: renew and release only act when the stored token still
// matches, so an expired holder can never clobber a successor's lease.
package leader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotLeader indicates the lease could not be acquired because another
// holder owns the duty.
var ErrNotLeader = errors.New("duty held by another instance")

// renewScript extends the lease only while our token still owns it.
// Returns 1 on renewal, 0 when the lease was lost.
var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while our token still owns it.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// DutyKey returns the Redis key for a duty lease.
// Pattern: drover:{instance_name}:leader:{duty}
func DutyKey(instanceName, duty string) string {
	return fmt.Sprintf("drover:%s:leader:%s", instanceName, duty)
}

// Elector acquires and renews duty leases for one process.
type Elector struct {
	rdb          *redis.Client
	instanceName string
	holderID     string
}

// New creates an elector on an existing Redis connection. holderID names the
// acquiring process in the lease value for observability; the fencing token
// is random per acquisition.
func New(rdb *redis.Client, instanceName, holderID string) (*Elector, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if holderID == "" {
		return nil, fmt.Errorf("holder ID cannot be empty")
	}

	return &Elector{
		rdb:          rdb,
		instanceName: instanceName,
		holderID:     holderID,
	}, nil
}

// Lease represents a held duty lease. The holder must call Release when the
// duty's work is done; until then a background goroutine renews the lease at
// a third of its TTL.
type Lease struct {
	elector *Elector
	duty    string
	token   string
	ttl     time.Duration

	cancel func()
	done   chan struct{}
	once   sync.Once
	lostMu sync.Mutex
	lost   bool
}

// Acquire attempts to take the lease for a duty. Returns ErrNotLeader when
// another holder owns it.
func (e *Elector) Acquire(ctx context.Context, duty string, ttl time.Duration) (*Lease, error) {
	if duty == "" {
		return nil, fmt.Errorf("duty cannot be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease TTL must be positive, got %v", ttl)
	}

	token := e.holderID + "/" + uuid.New().String()
	ok, err := e.rdb.SetNX(ctx, DutyKey(e.instanceName, duty), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for duty %s: %w", duty, err)
	}
	if !ok {
		return nil, fmt.Errorf("duty %s: %w", duty, ErrNotLeader)
	}

	renewCtx, cancel := context.WithCancel(context.Background())
	lease := &Lease{
		elector: e,
		duty:    duty,
		token:   token,
		ttl:     ttl,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go lease.renewLoop(renewCtx)

	return lease, nil
}

// Holder returns the value stored in a duty's lease, or "" when the duty is
// unheld.
func (e *Elector) Holder(ctx context.Context, duty string) (string, error) {
	val, err := e.rdb.Get(ctx, DutyKey(e.instanceName, duty)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lease for duty %s: %w", duty, err)
	}
	return val, nil
}

func (l *Lease) renewLoop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := renewScript.Run(ctx, l.elector.rdb,
				[]string{DutyKey(l.elector.instanceName, l.duty)},
				l.token, l.ttl.Milliseconds(),
			).Int64()
			if err != nil {
				// Transient Redis errors leave the lease to expire on its
				// own; the next tick retries.
				continue
			}
			if renewed == 0 {
				l.lostMu.Lock()
				l.lost = true
				l.lostMu.Unlock()
				return
			}
		}
	}
}

// Lost reports whether the lease was lost to expiry. A holder should check
// this between batches of duty work and stop when true.
func (l *Lease) Lost() bool {
	l.lostMu.Lock()
	defer l.lostMu.Unlock()
	return l.lost
}

// Release stops renewal and deletes the lease if our token still owns it.
// Safe to call multiple times - subsequent calls are no-ops.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		<-l.done
		err = releaseScript.Run(ctx, l.elector.rdb,
			[]string{DutyKey(l.elector.instanceName, l.duty)},
			l.token,
		).Err()
	})
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease for duty %s: %w", l.duty, err)
	}
	return nil
}

// WithDuty runs fn only if the duty lease can be acquired, and releases the
// lease afterwards regardless of fn's outcome. When another holder owns the
// duty, WithDuty returns nil without running fn - losing an election is not
// an error.
func (e *Elector) WithDuty(ctx context.Context, duty string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := e.Acquire(ctx, duty, ttl)
	if err != nil {
		if errors.Is(err, ErrNotLeader) {
			return nil
		}
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))

	return fn(ctx)
}
