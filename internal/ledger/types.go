// Package ledger is the append-only credit accounting store. Every credited
// or debited credit has exactly one immutable ledger row; the per-tenant
// balance is a projection derived from the rows and maintained atomically
// alongside each append. Rows are never mutated or deleted.
package ledger

import "fmt"

// Entry is one immutable ledger row.
type Entry struct {
	TenantID    string    `json:"tenant_id"`
	JobID       string    `json:"job_id,omitempty"`
	Skill       string    `json:"skill,omitempty"`
	Operation   Operation `json:"operation"`
	Amount      int64     `json:"amount"`            // Credits, always positive
	Context     string    `json:"context,omitempty"` // Free-form note (item ID, invoke ID, reason)
	CreatedAtMs int64     `json:"created_at_ms"`
}

// Operation defines the kind of ledger row.
type Operation string

const (
	// OperationGrant tops up a tenant's prepaid balance.
	OperationGrant Operation = "grant"

	// OperationReserve debits the available balance into a job's reserved pool.
	OperationReserve Operation = "reserve"

	// OperationCharge consumes reserved (or available) credits for executed work.
	OperationCharge Operation = "charge"

	// OperationRefund returns unspent reserved credits to the available balance.
	OperationRefund Operation = "refund"
)

// Validate checks if the Operation is a valid enum value.
func (o Operation) Validate() error {
	switch o {
	case OperationGrant, OperationReserve, OperationCharge, OperationRefund:
		return nil
	default:
		return fmt.Errorf("unknown ledger operation: %q", o)
	}
}

// Validate checks if the Entry has valid field values.
func (e *Entry) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}

	if err := e.Operation.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}

	if e.Amount < 0 {
		return fmt.Errorf("amount cannot be negative, got %d", e.Amount)
	}

	return nil
}
