package jobstore

import "fmt"

// Redis key pattern helpers
//
// Key pattern: drover:{instance_name}:job:{job_id}
// Item pattern: drover:{instance_name}:item:{item_id}
//
// The pending ZSET is the claim queue: members are item IDs scored by
// item_index, so the lowest score is always the FIFO head. Claiming pops the
// head and flips the item hash in one script, which is what makes the
// pending -> claimed transition a single atomic read-modify-write.

// JobKey returns the Redis key for a job hash.
// Pattern: drover:{instance_name}:job:{job_id}
func JobKey(instanceName, jobID string) string {
	return fmt.Sprintf("drover:%s:job:%s", instanceName, jobID)
}

// JobKeyPrefix returns the common prefix of all job keys, used by scripts
// that reconstruct job keys from claim references.
func JobKeyPrefix(instanceName string) string {
	return fmt.Sprintf("drover:%s:job:", instanceName)
}

// PendingKey returns the Redis key for a job's claim queue ZSET.
// Pattern: drover:{instance_name}:job:{job_id}:pending
func PendingKey(instanceName, jobID string) string {
	return fmt.Sprintf("drover:%s:job:%s:pending", instanceName, jobID)
}

// ItemsKey returns the Redis key for the ZSET of all of a job's item IDs,
// scored by item_index. Pattern: drover:{instance_name}:job:{job_id}:items
func ItemsKey(instanceName, jobID string) string {
	return fmt.Sprintf("drover:%s:job:%s:items", instanceName, jobID)
}

// ItemKey returns the Redis key for a job item hash.
// Pattern: drover:{instance_name}:item:{item_id}
func ItemKey(instanceName, itemID string) string {
	return fmt.Sprintf("drover:%s:item:%s", instanceName, itemID)
}

// ItemKeyPrefix returns the common prefix of all item keys, used by scripts
// that build item keys from IDs held in the claim queue.
func ItemKeyPrefix(instanceName string) string {
	return fmt.Sprintf("drover:%s:item:", instanceName)
}

// JobSetKey returns the Redis key for the set of all job IDs.
// Pattern: drover:{instance_name}:jobs
func JobSetKey(instanceName string) string {
	return fmt.Sprintf("drover:%s:jobs", instanceName)
}

// AgentClaimsPrefix returns the prefix for per-agent claim index keys, used
// by scripts that unindex a claim given the claimant's instance ID. The full
// key is AgentClaimsPrefix + instanceID + ":claims".
func AgentClaimsPrefix(instanceName string) string {
	return fmt.Sprintf("drover:%s:agent:", instanceName)
}
