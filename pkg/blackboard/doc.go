// Package blackboard provides the shared scratch space that drover agents use
// to coordinate across processes: a TTL-bounded key/value store with atomic
// counters, wildcard reads for aggregation, and advisory locks.
//
// The blackboard is explicitly best-effort. Entries may be evicted when their
// TTL elapses, and nothing durable - job state, item state, credit
// accounting - may ever depend on blackboard survival. It is a coordination
// aid, not a system of record.
//
// All keys are namespaced by instance name and scope so multiple drover
// instances can safely coexist on a single Redis server. A scope is either a
// job ID (for per-job aggregation namespaces) or ScopeGlobal.
package blackboard
