package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/droverdev/drover/internal/errdefs"
)

// debitScript appends a ledger row and debits the available balance, but only
// when the balance covers the amount. A debit that would overdraw fails
// closed with no row written. Returns the new balance, or -1 on insufficient
// credit.
var debitScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if balance < amount then
	return -1
end
redis.call('DECRBY', KEYS[1], amount)
redis.call('RPUSH', KEYS[2], ARGV[2])
return balance - amount
`)

// creditScript appends a ledger row and credits the available balance.
var creditScript = redis.NewScript(`
redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[2])
return redis.call('GET', KEYS[1])
`)

// Client provides instance-scoped Redis operations for the credit ledger.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// New creates a ledger client on an existing Redis connection.
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

// Grant tops up a tenant's available balance and appends a grant row.
func (c *Client) Grant(ctx context.Context, tenantID string, amount int64, note string) (*Entry, error) {
	entry := &Entry{
		TenantID:    tenantID,
		Operation:   OperationGrant,
		Amount:      amount,
		Context:     note,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if err := c.credit(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// Reserve debits amount from the tenant's available balance into a job's
// reserved pool and appends a reserve row. Fails closed with
// errdefs.ErrInsufficientCredit when the balance does not cover the amount;
// no row is written in that case.
func (c *Client) Reserve(ctx context.Context, tenantID, jobID string, amount int64) (*Entry, error) {
	entry := &Entry{
		TenantID:    tenantID,
		JobID:       jobID,
		Operation:   OperationReserve,
		Amount:      amount,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if err := c.debit(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// Charge appends a charge row for executed work. Charges with a job ID are
// normally posted by the job store's claim-protocol scripts against the
// job's reserved pool; this method covers direct tenant-level charges (e.g.
// the invoke skill), which debit the available balance and fail closed when
// it does not cover the amount.
func (c *Client) Charge(ctx context.Context, tenantID, jobID, skill string, amount int64) error {
	entry := &Entry{
		TenantID:    tenantID,
		JobID:       jobID,
		Skill:       skill,
		Operation:   OperationCharge,
		Amount:      amount,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	return c.debit(ctx, entry)
}

// Refund returns unspent reserved credits to the tenant's available balance
// and appends a refund row.
func (c *Client) Refund(ctx context.Context, tenantID, jobID string, amount int64, note string) (*Entry, error) {
	entry := &Entry{
		TenantID:    tenantID,
		JobID:       jobID,
		Operation:   OperationRefund,
		Amount:      amount,
		Context:     note,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if err := c.credit(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// Balance returns the tenant's available balance projection.
// Unknown tenants have a zero balance.
func (c *Client) Balance(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenant ID cannot be empty")
	}

	balance, err := c.rdb.Get(ctx, BalanceKey(c.instanceName, tenantID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return balance, nil
}

// Entries returns every ledger row for a tenant in append order.
func (c *Client) Entries(ctx context.Context, tenantID string) ([]*Entry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID cannot be empty")
	}

	rows, err := c.rdb.LRange(ctx, EntriesKey(c.instanceName, tenantID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		var entry Entry
		if err := json.Unmarshal([]byte(row), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger row: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// JobEntries returns every ledger row for one job in append order.
func (c *Client) JobEntries(ctx context.Context, tenantID, jobID string) ([]*Entry, error) {
	entries, err := c.Entries(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var jobEntries []*Entry
	for _, entry := range entries {
		if entry.JobID == jobID {
			jobEntries = append(jobEntries, entry)
		}
	}

	return jobEntries, nil
}

func (c *Client) debit(ctx context.Context, entry *Entry) error {
	row, err := c.marshalEntry(entry)
	if err != nil {
		return err
	}

	result, err := debitScript.Run(ctx, c.rdb,
		[]string{BalanceKey(c.instanceName, entry.TenantID), EntriesKey(c.instanceName, entry.TenantID)},
		entry.Amount, row,
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to append %s row: %w", entry.Operation, err)
	}

	if result < 0 {
		return fmt.Errorf("tenant %s %s of %d credits: %w",
			entry.TenantID, entry.Operation, entry.Amount, errdefs.ErrInsufficientCredit)
	}

	return nil
}

func (c *Client) credit(ctx context.Context, entry *Entry) error {
	row, err := c.marshalEntry(entry)
	if err != nil {
		return err
	}

	err = creditScript.Run(ctx, c.rdb,
		[]string{BalanceKey(c.instanceName, entry.TenantID), EntriesKey(c.instanceName, entry.TenantID)},
		entry.Amount, row,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to append %s row: %w", entry.Operation, err)
	}

	return nil
}

func (c *Client) marshalEntry(entry *Entry) (string, error) {
	return MarshalRow(entry)
}

// MarshalRow serializes a ledger entry for the job store's atomic scripts,
// which append rows themselves so item transitions and their ledger rows
// land in one atomic unit.
func MarshalRow(entry *Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", fmt.Errorf("invalid ledger entry: %w", err)
	}

	row, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	return string(row), nil
}
