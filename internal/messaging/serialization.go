package messaging

import "strconv"

// Serialization helpers for converting between Go structs and Redis hashes

// MessageToHash converts a Message struct to a Redis hash format.
func MessageToHash(m *Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              m.ID,
		"from_instance":   m.FromInstance,
		"to_instance":     m.ToInstance,
		"job_id":          m.JobID,
		"type":            m.Type,
		"payload":         m.Payload,
		"status":          string(m.Status),
		"reply_to":        m.ReplyTo,
		"created_at_ms":   m.CreatedAtMs,
		"delivered_at_ms": m.DeliveredAtMs,
		"read_at_ms":      m.ReadAtMs,
	}
}

// HashToMessage converts a Redis hash to a Message struct.
func HashToMessage(hash map[string]string) *Message {
	return &Message{
		ID:            hash["id"],
		FromInstance:  hash["from_instance"],
		ToInstance:    hash["to_instance"],
		JobID:         hash["job_id"],
		Type:          hash["type"],
		Payload:       hash["payload"],
		Status:        MessageStatus(hash["status"]),
		ReplyTo:       hash["reply_to"],
		CreatedAtMs:   parseInt64(hash["created_at_ms"]),
		DeliveredAtMs: parseInt64(hash["delivered_at_ms"]),
		ReadAtMs:      parseInt64(hash["read_at_ms"]),
	}
}

// InvocationToHash converts an Invocation struct to a Redis hash format.
func InvocationToHash(inv *Invocation) map[string]interface{} {
	return map[string]interface{}{
		"invoke_id":        inv.InvokeID,
		"caller_instance":  inv.CallerInstance,
		"target_instance":  inv.TargetInstance,
		"tenant_id":        inv.TenantID,
		"job_id":           inv.JobID,
		"request_payload":  inv.RequestPayload,
		"response_payload": inv.ResponsePayload,
		"status":           string(inv.Status),
		"credits_charged":  inv.CreditsCharged,
		"started_at_ms":    inv.StartedAtMs,
		"completed_at_ms":  inv.CompletedAtMs,
		"duration_ms":      inv.DurationMs,
		"error_message":    inv.ErrorMessage,
	}
}

// HashToInvocation converts a Redis hash to an Invocation struct.
func HashToInvocation(hash map[string]string) *Invocation {
	return &Invocation{
		InvokeID:        hash["invoke_id"],
		CallerInstance:  hash["caller_instance"],
		TargetInstance:  hash["target_instance"],
		TenantID:        hash["tenant_id"],
		JobID:           hash["job_id"],
		RequestPayload:  hash["request_payload"],
		ResponsePayload: hash["response_payload"],
		Status:          InvocationStatus(hash["status"]),
		CreditsCharged:  parseInt64(hash["credits_charged"]),
		StartedAtMs:     parseInt64(hash["started_at_ms"]),
		CompletedAtMs:   parseInt64(hash["completed_at_ms"]),
		DurationMs:      parseInt64(hash["duration_ms"]),
		ErrorMessage:    hash["error_message"],
	}
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
