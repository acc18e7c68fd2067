// Package membus is an in-memory bus.Bus used by tests and local runs
// without a Redis instance. It mirrors the consumer-group semantics of the
// Redis Streams implementation: independent group cursors, per-message
// acknowledgment and visibility-based redelivery.
package membus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"pulse/internal/bus"
)

type pendingMsg struct {
	index       int
	deliveredAt time.Time
	count       int64
}

type group struct {
	cursor  int
	pending map[string]*pendingMsg
}

type topic struct {
	ids      []string
	payloads [][]byte
	groups   map[string]*group
}

// Bus is an in-memory implementation of bus.Bus
type Bus struct {
	mu         sync.Mutex
	topics     map[string]*topic
	visibility time.Duration
	seq        int64
	wake       chan struct{}
	now        func() time.Time
}

// Option configures the bus
type Option func(*Bus)

// WithVisibility sets the redelivery window for unacknowledged messages
func WithVisibility(d time.Duration) Option {
	return func(b *Bus) { b.visibility = d }
}

// WithClock injects a clock, letting tests control visibility expiry
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates an in-memory bus
func New(opts ...Option) *Bus {
	b := &Bus{
		topics:     make(map[string]*topic),
		visibility: 30 * time.Second,
		wake:       make(chan struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends a payload and wakes blocked readers
func (b *Bus) Publish(ctx context.Context, name string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(name)
	b.seq++
	id := strconv.FormatInt(b.seq, 10)

	buf := make([]byte, len(payload))
	copy(buf, payload)
	t.ids = append(t.ids, id)
	t.payloads = append(t.payloads, buf)

	close(b.wake)
	b.wake = make(chan struct{})
	return id, nil
}

// Read delivers up to maxCount messages for (topic, group), expired
// redeliveries first. It blocks up to block and returns an empty batch on
// timeout.
func (b *Bus) Read(ctx context.Context, name, groupName, consumer string, maxCount int, block time.Duration) ([]bus.Message, error) {
	deadline := b.now().Add(block)

	for {
		b.mu.Lock()
		out := b.collect(name, groupName, maxCount)
		wake := b.wake
		b.mu.Unlock()

		if len(out) > 0 || block <= 0 {
			return out, nil
		}

		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
			timer.Stop()
		}
	}
}

// Ack removes messages from the group's pending set. Acking an id that is
// not pending is a no-op so that at-least-once re-acks stay harmless.
func (b *Bus) Ack(ctx context.Context, name, groupName string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return nil
	}
	g, ok := t.groups[groupName]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// Close releases nothing; present to satisfy bus.Bus
func (b *Bus) Close() error {
	return nil
}

// Pending reports the number of delivered-but-unacknowledged messages,
// used by tests to assert ack discipline.
func (b *Bus) Pending(name, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return 0
	}
	g, ok := t.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.pending)
}

// Len reports the total number of messages published to a topic
func (b *Bus) Len(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		return 0
	}
	return len(t.ids)
}

func (b *Bus) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{groups: make(map[string]*group)}
		b.topics[name] = t
	}
	return t
}

func (b *Bus) group(t *topic, name string) *group {
	g, ok := t.groups[name]
	if !ok {
		g = &group{pending: make(map[string]*pendingMsg)}
		t.groups[name] = g
	}
	return g
}

// collect must be called with the lock held
func (b *Bus) collect(name, groupName string, maxCount int) []bus.Message {
	t := b.topic(name)
	g := b.group(t, groupName)
	now := b.now()

	var out []bus.Message

	// Expired pending messages are redelivered before new ones,
	// in original publish order
	for i := 0; i < len(t.ids) && len(out) < maxCount; i++ {
		p, ok := g.pending[t.ids[i]]
		if !ok || p.index != i {
			continue
		}
		if now.Sub(p.deliveredAt) < b.visibility {
			continue
		}
		p.deliveredAt = now
		p.count++
		out = append(out, bus.Message{
			ID:            t.ids[i],
			Payload:       t.payloads[i],
			DeliveryCount: p.count,
		})
	}

	for g.cursor < len(t.ids) && len(out) < maxCount {
		i := g.cursor
		g.cursor++
		g.pending[t.ids[i]] = &pendingMsg{index: i, deliveredAt: now, count: 1}
		out = append(out, bus.Message{
			ID:            t.ids[i],
			Payload:       t.payloads[i],
			DeliveryCount: 1,
		})
	}
	return out
}
