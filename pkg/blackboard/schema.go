package blackboard

import "fmt"

// Redis key pattern helpers
//
// Key pattern: drover:{instance_name}:bb:{scope}:{key}
// Lock pattern: drover:{instance_name}:bblock:{scope}:{key}
//
// Scope is a job ID or ScopeGlobal. Keys under one scope can be read together
// with a wildcard suffix, which is what aggregation consumers rely on.

// ScopeGlobal is the scope for entries not tied to any job.
const ScopeGlobal = "global"

// EntryKey returns the Redis key for a blackboard entry.
// Pattern: drover:{instance_name}:bb:{scope}:{key}
func EntryKey(instanceName, scope, key string) string {
	return fmt.Sprintf("drover:%s:bb:%s:%s", instanceName, scope, key)
}

// EntryPrefix returns the Redis key prefix for all entries in a scope.
func EntryPrefix(instanceName, scope string) string {
	return fmt.Sprintf("drover:%s:bb:%s:", instanceName, scope)
}

// LockKey returns the Redis key for an advisory lock on a blackboard key.
// Pattern: drover:{instance_name}:bblock:{scope}:{key}
func LockKey(instanceName, scope, key string) string {
	return fmt.Sprintf("drover:%s:bblock:%s:%s", instanceName, scope, key)
}
