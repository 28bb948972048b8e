// Package errdefs defines the error taxonomy shared by all engine components.
//
// Components wrap these sentinels with fmt.Errorf("...: %w", err) to add
// context; callers classify with errors.Is or the helper predicates below.
// ClaimConflict and InvalidTransition are expected, recoverable conditions -
// callers retry or move on. InsufficientCredit aborts the operation it was
// paying for. InvokeTimeout surfaces as a typed failure to the invoke caller.
package errdefs

import "errors"

var (
	// ErrNotFound indicates an unknown job, item, instance, message, or
	// invocation identifier.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates an operation that is not valid from the
	// entity's current state, such as completing an already-terminal item or
	// responding to a resolved invocation.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientCredit indicates a reservation or charge that would
	// exceed the available balance or a job's reserved pool. The losing
	// operation fails closed; no partial state is written.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrClaimConflict indicates the caller lost a race for a job item.
	// Callers should simply try the next claim.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrNoItem indicates a claim call found no pending item. This is the
	// normal "queue drained" signal, not a failure.
	ErrNoItem = errors.New("no pending item")

	// ErrInvokeTimeout indicates no response arrived within the invoke bound.
	ErrInvokeTimeout = errors.New("invoke timeout")

	// ErrStaleInstance indicates a heartbeat or claim from an instance that
	// has been marked stale or stopped. The worker must re-register.
	ErrStaleInstance = errors.New("stale instance")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidTransition reports whether err wraps ErrInvalidTransition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsInsufficientCredit reports whether err wraps ErrInsufficientCredit.
func IsInsufficientCredit(err error) bool { return errors.Is(err, ErrInsufficientCredit) }

// IsClaimConflict reports whether err wraps ErrClaimConflict.
func IsClaimConflict(err error) bool { return errors.Is(err, ErrClaimConflict) }

// IsNoItem reports whether err wraps ErrNoItem.
func IsNoItem(err error) bool { return errors.Is(err, ErrNoItem) }

// IsInvokeTimeout reports whether err wraps ErrInvokeTimeout.
func IsInvokeTimeout(err error) bool { return errors.Is(err, ErrInvokeTimeout) }

// IsStaleInstance reports whether err wraps ErrStaleInstance.
func IsStaleInstance(err error) bool { return errors.Is(err, ErrStaleInstance) }
