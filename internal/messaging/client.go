package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/droverdev/drover/internal/errdefs"
	"github.com/droverdev/drover/internal/registry"
)

// Charger posts the credit charge for a completed invoke. The orchestrator
// wires the credit ledger in here; tests substitute a recorder.
type Charger interface {
	Charge(ctx context.Context, tenantID, jobID, skill string, amount int64) error
}

// SkillInvoke is the skill name invoke charges are posted under.
const SkillInvoke = "invoke"

// respondScript resolves a pending invocation and publishes the response to
// the caller's correlation channel in one step. A respond on an
// already-resolved invocation changes nothing and reports the current status
// so the caller can log the dropped response.
// KEYS: invocation, responseChannel
// ARGV: responsePayload, nowMs
var respondScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st == false then
	return 'not_found'
end
if st ~= 'pending' then
	return st
end
local started = tonumber(redis.call('HGET', KEYS[1], 'started_at_ms') or '0')
local duration = tonumber(ARGV[2]) - started
redis.call('HSET', KEYS[1],
	'status', 'completed',
	'response_payload', ARGV[1],
	'completed_at_ms', ARGV[2],
	'duration_ms', duration)
redis.call('PUBLISH', KEYS[2], ARGV[1])
return 'ok'
`)

// timeoutScript flips a pending invocation to timeout. When a response won
// the race instead, the current status comes back and the caller treats the
// invoke as completed.
// KEYS: invocation
// ARGV: nowMs
var timeoutScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st == false then
	return 'not_found'
end
if st ~= 'pending' then
	return st
end
redis.call('HSET', KEYS[1],
	'status', 'timeout',
	'completed_at_ms', ARGV[1],
	'error_message', 'no response within timeout')
return 'timeout'
`)

// Client provides instance-scoped Redis operations for messaging and invoke.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
	agents       *registry.Client
	charger      Charger
	invokeCost   int64
}

// New creates a messaging client on an existing Redis connection. The
// registry client validates senders and recipients; charger may be nil, in
// which case completed invokes are not charged.
func New(rdb *redis.Client, instanceName string, agents *registry.Client, charger Charger, invokeCost int64) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if agents == nil {
		return nil, fmt.Errorf("registry client cannot be nil")
	}

	return &Client{
		rdb:          rdb,
		instanceName: instanceName,
		agents:       agents,
		charger:      charger,
		invokeCost:   invokeCost,
	}, nil
}

// Send appends a message, indexes it in the recipient's inbox, and signals
// the recipient over its notify channel. The recipient must be registered.
func (c *Client) Send(ctx context.Context, from, to, payload, jobID string) (*Message, error) {
	return c.send(ctx, &Message{
		ID:           uuid.New().String(),
		FromInstance: from,
		ToInstance:   to,
		JobID:        jobID,
		Type:         MessageTypeDirect,
		Payload:      payload,
		Status:       MessageStatusPending,
		CreatedAtMs:  time.Now().UnixMilli(),
	})
}

func (c *Client) send(ctx context.Context, msg *Message) (*Message, error) {
	if msg.FromInstance == "" || msg.ToInstance == "" {
		return nil, fmt.Errorf("from and to instance IDs cannot be empty")
	}

	if _, err := c.agents.Get(ctx, msg.ToInstance); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, MessageKey(c.instanceName, msg.ID), MessageToHash(msg))
	pipe.LPush(ctx, InboxKey(c.instanceName, msg.ToInstance), msg.ID)
	pipe.Publish(ctx, NotifyChannel(c.instanceName, msg.ToInstance), msgJSON)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	return msg, nil
}

// GetMessage retrieves a message by ID.
// Returns errdefs.ErrNotFound if the message doesn't exist.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	hashData, err := c.rdb.HGetAll(ctx, MessageKey(c.instanceName, messageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, errdefs.ErrNotFound)
	}

	return HashToMessage(hashData), nil
}

// Inbox returns an instance's messages, newest first. When markDelivered is
// set, pending messages are flipped to delivered as they are listed.
func (c *Client) Inbox(ctx context.Context, instanceID string, markDelivered bool) ([]*Message, error) {
	ids, err := c.rdb.LRange(ctx, InboxKey(c.instanceName, instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	now := time.Now().UnixMilli()
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, err := c.GetMessage(ctx, id)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		if markDelivered && msg.Status == MessageStatusPending {
			err := c.rdb.HSet(ctx, MessageKey(c.instanceName, id),
				"status", string(MessageStatusDelivered),
				"delivered_at_ms", now,
			).Err()
			if err != nil {
				return nil, fmt.Errorf("failed to mark message delivered: %w", err)
			}
			msg.Status = MessageStatusDelivered
			msg.DeliveredAtMs = now
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

// MarkRead acknowledges a delivered message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	msg, err := c.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.Status == MessageStatusRead {
		return nil
	}

	err = c.rdb.HSet(ctx, MessageKey(c.instanceName, messageID),
		"status", string(MessageStatusRead),
		"read_at_ms", time.Now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}

	return nil
}

// Invoke performs a synchronous request/response exchange with the target
// instance. The caller blocks - on a per-correlation-id subscription, not a
// poll loop - until the target responds or the timeout elapses. A completed
// invoke posts one charge for the invoke skill; a timed-out invoke posts
// nothing, and a late response is dropped.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invoke request: %w", err)
	}

	now := time.Now().UnixMilli()
	inv := &Invocation{
		InvokeID:       uuid.New().String(),
		CallerInstance: req.CallerInstanceID,
		TargetInstance: req.TargetInstanceID,
		TenantID:       req.TenantID,
		JobID:          req.JobID,
		RequestPayload: req.Payload,
		Status:         InvocationStatusPending,
		StartedAtMs:    now,
	}

	if err := c.rdb.HSet(ctx, InvocationKey(c.instanceName, inv.InvokeID), InvocationToHash(inv)).Err(); err != nil {
		return nil, fmt.Errorf("failed to create invocation: %w", err)
	}

	// Subscribe before sending so the response can never slip between send
	// and subscribe.
	pubsub := c.rdb.Subscribe(ctx, ResponseChannel(c.instanceName, inv.InvokeID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe for invoke response: %w", err)
	}

	_, err := c.send(ctx, &Message{
		ID:           uuid.New().String(),
		FromInstance: req.CallerInstanceID,
		ToInstance:   req.TargetInstanceID,
		JobID:        req.JobID,
		Type:         MessageTypeInvokeRequest,
		Payload:      req.Payload,
		Status:       MessageStatusPending,
		ReplyTo:      inv.InvokeID,
		CreatedAtMs:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send invoke request: %w", err)
	}

	timer := time.NewTimer(time.Duration(req.TimeoutSeconds) * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.markTimeout(context.WithoutCancel(ctx), inv.InvokeID)
		return nil, ctx.Err()

	case <-timer.C:
		status, err := c.markTimeout(ctx, inv.InvokeID)
		if err != nil {
			return nil, err
		}
		if status == "completed" {
			// The response won the race against the timer.
			return c.settleCompleted(ctx, inv.InvokeID, req)
		}
		return c.GetInvocation(ctx, inv.InvokeID)

	case <-pubsub.Channel():
		return c.settleCompleted(ctx, inv.InvokeID, req)
	}
}

// markTimeout flips a pending invocation to timeout and returns the
// resulting status.
func (c *Client) markTimeout(ctx context.Context, invokeID string) (string, error) {
	status, err := timeoutScript.Run(ctx, c.rdb,
		[]string{InvocationKey(c.instanceName, invokeID)},
		time.Now().UnixMilli(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("failed to time out invocation: %w", err)
	}

	if status == "timeout" {
		return status, fmt.Errorf("invoke %s: %w", invokeID, errdefs.ErrInvokeTimeout)
	}

	return status, nil
}

// settleCompleted posts the invoke charge and returns the final invocation.
func (c *Client) settleCompleted(ctx context.Context, invokeID string, req InvokeRequest) (*Invocation, error) {
	if c.charger != nil && c.invokeCost > 0 {
		err := c.charger.Charge(ctx, req.TenantID, req.JobID, SkillInvoke, c.invokeCost)
		if err != nil {
			if !errdefs.IsInsufficientCredit(err) {
				return nil, err
			}
			// The exchange already happened; an uncollectable charge is
			// logged rather than failing the caller.
			log.Printf("[Messaging] Invoke %s completed but charge failed: %v", invokeID, err)
		} else {
			err := c.rdb.HSet(ctx, InvocationKey(c.instanceName, invokeID),
				"credits_charged", c.invokeCost,
			).Err()
			if err != nil {
				return nil, fmt.Errorf("failed to record invoke charge: %w", err)
			}
		}
	}

	return c.GetInvocation(ctx, invokeID)
}

// Respond resolves a pending invocation with the target's response payload.
// Exactly one respond succeeds; responding to an already-resolved invocation
// returns errdefs.ErrInvalidTransition and the late response is dropped.
func (c *Client) Respond(ctx context.Context, invokeID, responsePayload string) error {
	result, err := respondScript.Run(ctx, c.rdb,
		[]string{
			InvocationKey(c.instanceName, invokeID),
			ResponseChannel(c.instanceName, invokeID),
		},
		responsePayload, time.Now().UnixMilli(),
	).Text()
	if err != nil {
		return fmt.Errorf("failed to respond to invocation: %w", err)
	}

	switch result {
	case "ok":
		return nil
	case "not_found":
		return fmt.Errorf("invocation %s: %w", invokeID, errdefs.ErrNotFound)
	default:
		log.Printf("[Messaging] Late response to invocation %s dropped (status=%s)", invokeID, result)
		return fmt.Errorf("invocation %s already %s: %w", invokeID, result, errdefs.ErrInvalidTransition)
	}
}

// GetInvocation retrieves an invocation by ID.
// Returns errdefs.ErrNotFound if the invocation doesn't exist.
func (c *Client) GetInvocation(ctx context.Context, invokeID string) (*Invocation, error) {
	hashData, err := c.rdb.HGetAll(ctx, InvocationKey(c.instanceName, invokeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read invocation: %w", err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("invocation %s: %w", invokeID, errdefs.ErrNotFound)
	}

	return HashToInvocation(hashData), nil
}

// Subscription represents an active Pub/Sub subscription to an agent's
// inbox notifications. Caller must call Close() when done.
type Subscription struct {
	events <-chan *Message
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of inbound message notifications.
// The channel is closed when the subscription closes or the context ends.
func (s *Subscription) Events() <-chan *Message {
	return s.events
}

// Errors returns the channel of subscription errors. The subscription
// continues after errors - malformed notifications are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe subscribes to an instance's inbox notifications. Returns a
// Subscription delivering full message objects as they are sent.
// Caller must call subscription.Close() when done.
func (c *Client) Subscribe(ctx context.Context, instanceID string) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, NotifyChannel(c.instanceName, instanceID))

	eventsChan := make(chan *Message, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var message Message
				if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal message notification: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &message:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
