// Package notify delivers emitted signals to the external notification
// channel. Delivery is fire-and-forget: the pipeline's durability contract
// ends at the signal stage's window update.
package notify

import (
	"context"
	"sync"

	"pulse/internal/adapters/kafka"
	"pulse/internal/domain/signal"
	"pulse/pkg/logger"
)

// Publisher pushes a signal to the broadcast channel
type Publisher interface {
	PublishSignal(ctx context.Context, sig *signal.Signal) error
}

// KafkaPublisher broadcasts signals on a Kafka topic
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaPublisher creates a Kafka-backed signal publisher
func NewKafkaPublisher(producer *kafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishSignal sends the signal keyed by instrument so consumers can
// partition by key
func (p *KafkaPublisher) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	return p.producer.Publish(ctx, p.topic, sig.Key, sig)
}

// LogPublisher writes signals to the log; used when no brokers are
// configured
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logger.Get().With("component", "signal_log")}
}

// PublishSignal logs the signal
func (p *LogPublisher) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	p.log.Infow("Signal",
		"key", sig.Key,
		"direction", sig.Direction,
		"score", sig.Score,
		"confidence", sig.Confidence,
		"window_size", sig.WindowSize,
	)
	return nil
}

// Memory collects published signals; used by tests
type Memory struct {
	mu      sync.Mutex
	signals []*signal.Signal
}

// NewMemory creates an in-memory publisher
func NewMemory() *Memory {
	return &Memory{}
}

// PublishSignal records the signal
func (m *Memory) PublishSignal(ctx context.Context, sig *signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, sig)
	return nil
}

// Signals returns everything published so far
func (m *Memory) Signals() []*signal.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*signal.Signal, len(m.signals))
	copy(out, m.signals)
	return out
}
