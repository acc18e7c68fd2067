package consumers

import (
	"context"
	"encoding/json"
	"time"

	"pulse/internal/bus"
	"pulse/internal/domain/post"
	"pulse/internal/metrics"
	"pulse/internal/notify"
	"pulse/internal/scoring"
	"pulse/pkg/logger"
)

// SignalGroup is the signal stage's consumer group on the clean topic.
// Independent of ArchiveGroup: both groups observe every clean post.
const SignalGroup = "signals"

// SignalConsumerConfig holds signal stage configuration
type SignalConsumerConfig struct {
	Topic         string
	Consumer      string
	ReadBatchSize int
	ReadBlock     time.Duration
	StatsInterval time.Duration
}

func (c *SignalConsumerConfig) applyDefaults() {
	if c.Consumer == "" {
		c.Consumer = "analyst-1"
	}
	if c.ReadBatchSize <= 0 {
		c.ReadBatchSize = 10
	}
	if c.ReadBlock <= 0 {
		c.ReadBlock = time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 30 * time.Second
	}
}

// SignalConsumer is the sliding-window signal stage. Each delivered post
// updates its key's window; a message is acknowledged right after the
// window update, since that update is the stage's durable side effect.
// Window state is deliberately not persisted: after a restart it rebuilds
// from live traffic, and the stage logs that staleness window at startup.
type SignalConsumer struct {
	cfg      SignalConsumerConfig
	bus      bus.Bus
	engine   *scoring.Engine
	notifier notify.Publisher
	log      *logger.Logger

	processed uint64
	dropped   uint64
}

// NewSignalConsumer creates the signal stage
func NewSignalConsumer(cfg SignalConsumerConfig, b bus.Bus, engine *scoring.Engine, notifier notify.Publisher) *SignalConsumer {
	cfg.applyDefaults()
	return &SignalConsumer{
		cfg:      cfg,
		bus:      b,
		engine:   engine,
		notifier: notifier,
		log: logger.Get().With(
			"component", "signal_consumer",
			"topic", cfg.Topic,
			"group", SignalGroup,
		),
	}
}

// Run consumes until the context is cancelled
func (c *SignalConsumer) Run(ctx context.Context) error {
	c.log.Info("Signal consumer started; windows rebuild from live traffic after restart")

	statsTicker := time.NewTicker(c.cfg.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.LogStats(true)
			return nil
		case <-statsTicker.C:
			c.LogStats(false)
		default:
		}

		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.log.Errorf("Consumer step failed: %v", err)
			sleepCtx(ctx, time.Second)
		}
	}
}

// Step reads one batch and folds each message into the engine
func (c *SignalConsumer) Step(ctx context.Context) error {
	msgs, err := c.bus.Read(ctx, c.cfg.Topic, SignalGroup, c.cfg.Consumer, c.cfg.ReadBatchSize, c.cfg.ReadBlock)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		c.handle(ctx, msg)
	}
	return nil
}

func (c *SignalConsumer) handle(ctx context.Context, msg bus.Message) {
	var p post.CleanPost
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		c.dropped++
		c.log.Warnw("Dropping undecodable message", "id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}

	sig := c.engine.Observe(&p)
	c.processed++
	if msg.DeliveryCount > 1 {
		metrics.BusRedeliveries.WithLabelValues(c.cfg.Topic, SignalGroup).Inc()
	}

	// Window state is updated; the side effect is done, ack now.
	// Notification failures below must not hold the message hostage.
	c.ack(ctx, msg.ID)

	if sig == nil {
		key := p.Key(c.engine.DefaultKey())
		c.log.Debugw("No signal", "id", p.ID, "key", key, "window", c.engine.WindowSize(key))
		return
	}

	c.log.Infow("Signal emitted",
		"key", sig.Key,
		"direction", sig.Direction,
		"score", sig.Score,
		"confidence", sig.Confidence,
		"window_size", sig.WindowSize,
	)

	if err := c.notifier.PublishSignal(ctx, sig); err != nil {
		// Fire-and-forget: log and move on
		c.log.Errorf("Signal notification failed: %v", err)
	}
}

func (c *SignalConsumer) ack(ctx context.Context, id string) {
	if err := c.bus.Ack(ctx, c.cfg.Topic, SignalGroup, id); err != nil {
		c.log.Errorf("Failed to ack message %s: %v", id, err)
	}
}

// LogStats logs cumulative consumer statistics
func (c *SignalConsumer) LogStats(final bool) {
	observed, emitted, keys := c.engine.Stats()
	c.log.Infow("Signal consumer stats",
		"final", final,
		"processed", c.processed,
		"observed", observed,
		"signals", emitted,
		"tracked_keys", keys,
		"dropped", c.dropped,
	)
}
