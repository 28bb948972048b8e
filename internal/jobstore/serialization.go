package jobstore

import "strconv"

// Serialization helpers for converting between Go structs and Redis hashes
//
// Job and item hashes are written by Lua scripts from JSON objects whose
// field names match the hash field names exactly, so JobToHash/ItemToHash
// produce the same shape the scripts consume.

// JobToHash converts a Job struct to a Redis hash format.
func JobToHash(j *Job) map[string]interface{} {
	return map[string]interface{}{
		"id":                       j.ID,
		"orchestrator_instance_id": j.OrchestratorInstanceID,
		"tenant_id":                j.TenantID,
		"task":                     j.Task,
		"config":                   j.Config,
		"status":                   string(j.Status),
		"total_items":              j.TotalItems,
		"completed_items":          j.CompletedItems,
		"failed_items":             j.FailedItems,
		"cancelled_items":          j.CancelledItems,
		"credits_reserved":         j.CreditsReserved,
		"credits_spent":            j.CreditsSpent,
		"credits_refunded":         j.CreditsRefunded,
		"credits_remaining":        j.CreditsRemaining,
		"per_item_cost":            j.PerItemCost,
		"job_overhead":             j.JobOverhead,
		"parallelism":              j.Parallelism,
		"timeout_per_item_ms":      j.TimeoutPerItemMs,
		"max_retries":              j.MaxRetries,
		"created_at_ms":            j.CreatedAtMs,
		"completed_at_ms":          j.CompletedAtMs,
	}
}

// HashToJob converts a Redis hash to a Job struct.
func HashToJob(hash map[string]string) *Job {
	return &Job{
		ID:                     hash["id"],
		OrchestratorInstanceID: hash["orchestrator_instance_id"],
		TenantID:               hash["tenant_id"],
		Task:                   hash["task"],
		Config:                 hash["config"],
		Status:                 JobStatus(hash["status"]),
		TotalItems:             atoi(hash["total_items"]),
		CompletedItems:         atoi(hash["completed_items"]),
		FailedItems:            atoi(hash["failed_items"]),
		CancelledItems:         atoi(hash["cancelled_items"]),
		CreditsReserved:        atoi64(hash["credits_reserved"]),
		CreditsSpent:           atoi64(hash["credits_spent"]),
		CreditsRefunded:        atoi64(hash["credits_refunded"]),
		CreditsRemaining:       atoi64(hash["credits_remaining"]),
		PerItemCost:            atoi64(hash["per_item_cost"]),
		JobOverhead:            atoi64(hash["job_overhead"]),
		Parallelism:            atoi(hash["parallelism"]),
		TimeoutPerItemMs:       atoi64(hash["timeout_per_item_ms"]),
		MaxRetries:             atoi(hash["max_retries"]),
		CreatedAtMs:            atoi64(hash["created_at_ms"]),
		CompletedAtMs:          atoi64(hash["completed_at_ms"]),
	}
}

// ItemToHash converts a JobItem struct to a Redis hash format.
func ItemToHash(i *JobItem) map[string]interface{} {
	return map[string]interface{}{
		"id":                 i.ID,
		"job_id":             i.JobID,
		"item_index":         i.ItemIndex,
		"input":              i.Input,
		"output":             i.Output,
		"worker_instance_id": i.WorkerInstanceID,
		"status":             string(i.Status),
		"claimed_at_ms":      i.ClaimedAtMs,
		"completed_at_ms":    i.CompletedAtMs,
		"error_message":      i.ErrorMessage,
		"retry_count":        i.RetryCount,
		"max_retries":        i.MaxRetries,
		"created_at_ms":      i.CreatedAtMs,
	}
}

// HashToItem converts a Redis hash to a JobItem struct.
func HashToItem(hash map[string]string) *JobItem {
	return &JobItem{
		ID:               hash["id"],
		JobID:            hash["job_id"],
		ItemIndex:        atoi(hash["item_index"]),
		Input:            hash["input"],
		Output:           hash["output"],
		WorkerInstanceID: hash["worker_instance_id"],
		Status:           ItemStatus(hash["status"]),
		ClaimedAtMs:      atoi64(hash["claimed_at_ms"]),
		CompletedAtMs:    atoi64(hash["completed_at_ms"]),
		ErrorMessage:     hash["error_message"],
		RetryCount:       atoi(hash["retry_count"]),
		MaxRetries:       atoi(hash["max_retries"]),
		CreatedAtMs:      atoi64(hash["created_at_ms"]),
	}
}

// StringifyHash renders every hash value as its decimal/string form. Script
// payloads use this so Lua never stringifies numbers itself (Lua tostring
// renders large integers in exponent notation, which would corrupt
// millisecond timestamps).
func StringifyHash(hash map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(hash))
	for k, v := range hash {
		switch value := v.(type) {
		case string:
			fields[k] = value
		case int:
			fields[k] = strconv.Itoa(value)
		case int64:
			fields[k] = strconv.FormatInt(value, 10)
		default:
			fields[k] = ""
		}
	}
	return fields
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
