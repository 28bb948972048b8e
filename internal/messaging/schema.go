package messaging

import "fmt"

// Redis key pattern helpers
//
// Key pattern: drover:{instance_name}:message:{message_id}
// Inbox pattern: drover:{instance_name}:inbox:{instance_id}
// Invoke pattern: drover:{instance_name}:invoke:{invoke_id}
// Notify channel: drover:{instance_name}:agent:{instance_id}:notify
// Response channel: drover:{instance_name}:invoke:{invoke_id}:response

// MessageKey returns the Redis key for a message hash.
// Pattern: drover:{instance_name}:message:{message_id}
func MessageKey(instanceName, messageID string) string {
	return fmt.Sprintf("drover:%s:message:%s", instanceName, messageID)
}

// InboxKey returns the Redis key for an agent's inbox list. Message IDs are
// pushed to the head, so the inbox reads newest-first.
// Pattern: drover:{instance_name}:inbox:{instance_id}
func InboxKey(instanceName, instanceID string) string {
	return fmt.Sprintf("drover:%s:inbox:%s", instanceName, instanceID)
}

// InvocationKey returns the Redis key for an invocation hash.
// Pattern: drover:{instance_name}:invoke:{invoke_id}
func InvocationKey(instanceName, invokeID string) string {
	return fmt.Sprintf("drover:%s:invoke:%s", instanceName, invokeID)
}

// NotifyChannel returns the Pub/Sub channel an agent instance is signalled
// on when a message lands in its inbox.
// Pattern: drover:{instance_name}:agent:{instance_id}:notify
func NotifyChannel(instanceName, instanceID string) string {
	return fmt.Sprintf("drover:%s:agent:%s:notify", instanceName, instanceID)
}

// ResponseChannel returns the Pub/Sub channel an invoke caller blocks on.
// One channel per correlation ID, so responses never fan out to the wrong
// caller. Pattern: drover:{instance_name}:invoke:{invoke_id}:response
func ResponseChannel(instanceName, invokeID string) string {
	return fmt.Sprintf("drover:%s:invoke:%s:response", instanceName, invokeID)
}
