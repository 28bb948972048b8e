package blackboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotLockHolder is returned by ReleaseLock when the caller's holder token
// does not match the current lock holder. A slow or crashed holder can never
// be spoofed by a different releaser.
var ErrNotLockHolder = errors.New("not the lock holder")

// releaseLockScript deletes a lock only when the caller still holds it.
// Token comparison and deletion happen server-side in one step.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return -1
`)

// Client provides instance-scoped blackboard operations.
// All keys are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// New creates a blackboard client on an existing Redis connection.
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

// NewClient creates a blackboard client with its own Redis connection.
// Prefer New when a shared connection pool already exists.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	return New(redis.NewClient(redisOpts), instanceName)
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Write stores a value under (scope, key). A ttl of zero means no expiry.
func (c *Client) Write(ctx context.Context, scope, key, value string, ttl time.Duration) error {
	if err := validateScopeKey(scope, key); err != nil {
		return err
	}

	if err := c.rdb.Set(ctx, EntryKey(c.instanceName, scope, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write blackboard entry: %w", err)
	}

	return nil
}

// Read retrieves the value under (scope, key).
// Returns ("", redis.Nil) if the entry doesn't exist or its TTL elapsed.
// Use IsNotFound() to check for not-found errors.
func (c *Client) Read(ctx context.Context, scope, key string) (string, error) {
	if err := validateScopeKey(scope, key); err != nil {
		return "", err
	}

	value, err := c.rdb.Get(ctx, EntryKey(c.instanceName, scope, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to read blackboard entry: %w", err)
	}

	return value, nil
}

// ReadPattern retrieves all entries in a scope whose key matches the pattern.
// Only a trailing wildcard is supported (e.g. "results/*" or "*" for the
// whole scope). Returns a map of bare key (scope prefix stripped) to value.
func (c *Client) ReadPattern(ctx context.Context, scope, pattern string) (map[string]string, error) {
	if scope == "" {
		return nil, fmt.Errorf("scope cannot be empty")
	}
	if pattern == "" || !strings.HasSuffix(pattern, "*") {
		return nil, fmt.Errorf("pattern must end with a wildcard suffix, got %q", pattern)
	}

	prefix := EntryPrefix(c.instanceName, scope)
	match := prefix + pattern

	entries := make(map[string]string)
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan blackboard entries: %w", err)
		}

		for _, fullKey := range keys {
			value, err := c.rdb.Get(ctx, fullKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					// Evicted between scan and read. Skip.
					continue
				}
				return nil, fmt.Errorf("failed to read blackboard entry %s: %w", fullKey, err)
			}
			entries[strings.TrimPrefix(fullKey, prefix)] = value
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return entries, nil
}

// Increment atomically adds delta to the counter under (scope, key) and
// returns the new value. Missing counters start at zero.
func (c *Client) Increment(ctx context.Context, scope, key string, delta int64) (int64, error) {
	if err := validateScopeKey(scope, key); err != nil {
		return 0, err
	}

	value, err := c.rdb.IncrBy(ctx, EntryKey(c.instanceName, scope, key), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment blackboard counter: %w", err)
	}

	return value, nil
}

// Delete removes the entry under (scope, key). Deleting a missing entry is
// not an error.
func (c *Client) Delete(ctx context.Context, scope, key string) error {
	if err := validateScopeKey(scope, key); err != nil {
		return err
	}

	if err := c.rdb.Del(ctx, EntryKey(c.instanceName, scope, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete blackboard entry: %w", err)
	}

	return nil
}

// AcquireLock attempts to take the advisory lock on (scope, key) for holder.
// Acquisition is a conditional set-if-absent with expiry; returns true when
// the lock was taken, false when another holder has it. The ttl bounds how
// long a crashed holder can block others.
func (c *Client) AcquireLock(ctx context.Context, scope, key, holder string, ttl time.Duration) (bool, error) {
	if err := validateScopeKey(scope, key); err != nil {
		return false, err
	}
	if holder == "" {
		return false, fmt.Errorf("holder cannot be empty")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive")
	}

	acquired, err := c.rdb.SetNX(ctx, LockKey(c.instanceName, scope, key), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire blackboard lock: %w", err)
	}

	return acquired, nil
}

// ReleaseLock releases the advisory lock on (scope, key), but only when the
// caller's holder token matches the current holder. Returns ErrNotLockHolder
// otherwise (including when the lock already expired).
func (c *Client) ReleaseLock(ctx context.Context, scope, key, holder string) error {
	if err := validateScopeKey(scope, key); err != nil {
		return err
	}

	result, err := releaseLockScript.Run(ctx, c.rdb, []string{LockKey(c.instanceName, scope, key)}, holder).Int64()
	if err != nil {
		return fmt.Errorf("failed to release blackboard lock: %w", err)
	}

	if result < 0 {
		return ErrNotLockHolder
	}

	return nil
}

// LockHolder returns the current holder of the lock on (scope, key).
// Returns ("", redis.Nil) when the lock is not held.
func (c *Client) LockHolder(ctx context.Context, scope, key string) (string, error) {
	if err := validateScopeKey(scope, key); err != nil {
		return "", err
	}

	holder, err := c.rdb.Get(ctx, LockKey(c.instanceName, scope, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", redis.Nil
		}
		return "", fmt.Errorf("failed to read lock holder: %w", err)
	}

	return holder, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if Read or LockHolder returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

func validateScopeKey(scope, key string) error {
	if scope == "" {
		return fmt.Errorf("scope cannot be empty")
	}
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	return nil
}
