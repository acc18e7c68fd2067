package bus

import (
	"context"
	"time"
)

// Message is the envelope a consumer receives from a topic.
// ID is assigned by the bus on publish; DeliveryCount grows on every
// redelivery after an expired visibility window.
type Message struct {
	ID            string
	Payload       []byte
	DeliveryCount int64
}

// Bus is an append-only, replay-capable log with named consumer groups.
// Each group keeps its own cursor over a topic; messages are never removed
// on read, only acknowledged per group. A message left unacknowledged past
// the visibility window becomes claimable by any consumer in the group,
// which is what makes delivery at-least-once.
type Bus interface {
	// Publish appends a payload to a topic and returns the assigned message id
	Publish(ctx context.Context, topic string, payload []byte) (string, error)

	// Read delivers up to maxCount messages for (topic, group), blocking up
	// to block before returning an empty batch. Redeliveries of expired
	// pending messages come before new ones.
	Read(ctx context.Context, topic, group, consumer string, maxCount int, block time.Duration) ([]Message, error)

	// Ack marks messages as processed for the group. Acknowledged messages
	// are never redelivered to that group.
	Ack(ctx context.Context, topic, group string, ids ...string) error

	// Close releases bus resources
	Close() error
}
