// Package messaging provides point-to-point message delivery between agent
// instances, plus the audited, timeout-bounded request/response exchange
// ("invoke") built on top of it. Recipients are signalled over a per-instance
// notify channel rather than polled; invoke callers block on a
// per-correlation-id subscription until a response arrives or the timeout
// elapses.
package messaging

import "fmt"

// Message represents one point-to-point message between two agent instances.
type Message struct {
	ID            string        `json:"id"`
	FromInstance  string        `json:"from_instance"`
	ToInstance    string        `json:"to_instance"`
	JobID         string        `json:"job_id,omitempty"`
	Type          string        `json:"type"` // "direct", "invoke_request"
	Payload       string        `json:"payload"`
	Status        MessageStatus `json:"status"`
	ReplyTo       string        `json:"reply_to,omitempty"` // Invoke ID for correlated requests
	CreatedAtMs   int64         `json:"created_at_ms"`
	DeliveredAtMs int64         `json:"delivered_at_ms"`
	ReadAtMs      int64         `json:"read_at_ms"`
}

// MessageStatus defines the delivery state of a message.
type MessageStatus string

const (
	// MessageStatusPending indicates the message has not been fetched yet.
	MessageStatusPending MessageStatus = "pending"

	// MessageStatusDelivered indicates the recipient fetched the message.
	MessageStatusDelivered MessageStatus = "delivered"

	// MessageStatusRead indicates the recipient acknowledged the message.
	MessageStatusRead MessageStatus = "read"
)

// Validate checks if the MessageStatus is a valid enum value.
func (s MessageStatus) Validate() error {
	switch s {
	case MessageStatusPending, MessageStatusDelivered, MessageStatusRead:
		return nil
	default:
		return fmt.Errorf("unknown message status: %q", s)
	}
}

// MessageTypeDirect is a plain point-to-point message.
const MessageTypeDirect = "direct"

// MessageTypeInvokeRequest is the correlated request half of an invoke.
const MessageTypeInvokeRequest = "invoke_request"

// Invocation is the audited record of one synchronous request/response
// exchange between two agent instances.
type Invocation struct {
	InvokeID        string           `json:"invoke_id"`
	CallerInstance  string           `json:"caller_instance"`
	TargetInstance  string           `json:"target_instance"`
	TenantID        string           `json:"tenant_id"`
	JobID           string           `json:"job_id,omitempty"`
	RequestPayload  string           `json:"request_payload"`
	ResponsePayload string           `json:"response_payload"`
	Status          InvocationStatus `json:"status"`
	CreditsCharged  int64            `json:"credits_charged"`
	StartedAtMs     int64            `json:"started_at_ms"`
	CompletedAtMs   int64            `json:"completed_at_ms"`
	DurationMs      int64            `json:"duration_ms"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// InvocationStatus defines the lifecycle state of an invocation.
type InvocationStatus string

const (
	// InvocationStatusPending indicates the caller is waiting for a response.
	InvocationStatusPending InvocationStatus = "pending"

	// InvocationStatusCompleted indicates a response arrived within the bound.
	InvocationStatusCompleted InvocationStatus = "completed"

	// InvocationStatusTimeout indicates no response arrived within the bound.
	InvocationStatusTimeout InvocationStatus = "timeout"

	// InvocationStatusFailed indicates the exchange failed for another reason.
	InvocationStatusFailed InvocationStatus = "failed"
)

// Validate checks if the InvocationStatus is a valid enum value.
func (s InvocationStatus) Validate() error {
	switch s {
	case InvocationStatusPending, InvocationStatusCompleted, InvocationStatusTimeout, InvocationStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown invocation status: %q", s)
	}
}

// InvokeRequest describes one invoke call.
type InvokeRequest struct {
	CallerInstanceID string
	TargetInstanceID string
	TenantID         string
	JobID            string
	Payload          string
	TimeoutSeconds   int
}

// Validate checks if the InvokeRequest has valid field values.
func (r *InvokeRequest) Validate() error {
	if r.CallerInstanceID == "" {
		return fmt.Errorf("caller instance ID cannot be empty")
	}
	if r.TargetInstanceID == "" {
		return fmt.Errorf("target instance ID cannot be empty")
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if r.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", r.TimeoutSeconds)
	}
	return nil
}
