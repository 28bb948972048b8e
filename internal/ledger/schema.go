package ledger

import "fmt"

// Redis key pattern helpers
//
// Ledger rows are stored as a per-tenant list of JSON entries, appended with
// RPUSH so the list preserves append order. The balance projection lives in a
// plain integer key updated in the same atomic step as each append.
//
// The job store's claim-protocol scripts write these keys directly so an item
// transition and its ledger row land in one atomic unit; the key builders are
// exported for that reason.

// EntriesKey returns the Redis key for a tenant's ledger row list.
// Pattern: drover:{instance_name}:ledger:{tenant_id}
func EntriesKey(instanceName, tenantID string) string {
	return fmt.Sprintf("drover:%s:ledger:%s", instanceName, tenantID)
}

// BalanceKey returns the Redis key for a tenant's available-balance projection.
// Pattern: drover:{instance_name}:credits:{tenant_id}
func BalanceKey(instanceName, tenantID string) string {
	return fmt.Sprintf("drover:%s:credits:%s", instanceName, tenantID)
}
