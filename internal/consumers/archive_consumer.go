package consumers

import (
	"context"
	"encoding/json"
	"time"

	"pulse/internal/archive"
	"pulse/internal/bus"
	"pulse/internal/domain/post"
	"pulse/internal/metrics"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

// ArchiveGroup is the archival stage's consumer group on the clean topic
const ArchiveGroup = "archival"

// ArchiveConsumerConfig holds archival stage configuration
type ArchiveConsumerConfig struct {
	Topic         string
	Consumer      string
	SizeThreshold int
	TimeThreshold time.Duration
	ReadBatchSize int
	ReadBlock     time.Duration
	StatsInterval time.Duration
}

func (c *ArchiveConsumerConfig) applyDefaults() {
	if c.Consumer == "" {
		c.Consumer = "archiver-1"
	}
	if c.SizeThreshold <= 0 {
		c.SizeThreshold = 50
	}
	if c.TimeThreshold <= 0 {
		c.TimeThreshold = 60 * time.Second
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

// ArchiveConsumer is the batching archival stage. It buffers delivered
// clean posts together with their message ids and flushes them as one
// write unit on a size or time trigger. Messages are acknowledged only
// after the write is durable; a failed write keeps the buffer and its
// pending ids so nothing is lost (at-least-once).
//
// The consumer is single-threaded: buffer and pending ids need no locking.
type ArchiveConsumer struct {
	cfg  ArchiveConsumerConfig
	bus  bus.Bus
	repo archive.Repository
	log  *logger.Logger

	buffer     []*post.CleanPost
	pendingIDs []string
	buffered   map[string]struct{} // guards against redelivered ids landing twice
	openedAt   time.Time

	totalArchived uint64
	totalBatches  uint64
	flushFailures uint64
	dropped       uint64

	now func() time.Time
}

// NewArchiveConsumer creates the archival stage
func NewArchiveConsumer(cfg ArchiveConsumerConfig, b bus.Bus, repo archive.Repository) *ArchiveConsumer {
	cfg.applyDefaults()
	return &ArchiveConsumer{
		cfg:      cfg,
		bus:      b,
		repo:     repo,
		buffered: make(map[string]struct{}),
		log: logger.Get().With(
			"component", "archive_consumer",
			"topic", cfg.Topic,
			"group", ArchiveGroup,
		),
		now: time.Now,
	}
}

// SetClock injects a clock for trigger tests
func (c *ArchiveConsumer) SetClock(now func() time.Time) {
	c.now = now
}

// Run consumes until the context is cancelled, then attempts one final
// flush so a graceful stop loses nothing that was buffered.
func (c *ArchiveConsumer) Run(ctx context.Context) error {
	c.log.Infow("Archive consumer started",
		"size_threshold", c.cfg.SizeThreshold,
		"time_threshold", c.cfg.TimeThreshold,
	)

	statsTicker := time.NewTicker(c.cfg.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush runs on a fresh context; ctx is already dead
			if err := c.Flush(context.Background(), "shutdown"); err != nil {
				c.log.Errorf("Final flush failed, batch stays unacknowledged: %v", err)
			}
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

// Step performs one read-buffer-maybe-flush iteration. Split out so tests
// can drive the consumer without the outer loop.
func (c *ArchiveConsumer) Step(ctx context.Context) error {
	msgs, err := c.bus.Read(ctx, c.cfg.Topic, ArchiveGroup, c.cfg.Consumer, c.cfg.ReadBatchSize, c.cfg.ReadBlock)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		c.append(ctx, msg)
	}
	metrics.ArchiveBufferSize.Set(float64(len(c.buffer)))

	// Trigger check runs on every iteration, including idle reads, so a
	// time flush fires even when no new traffic arrives
	switch {
	case len(c.buffer) >= c.cfg.SizeThreshold:
		return c.Flush(ctx, "size")
	case len(c.buffer) > 0 && c.now().Sub(c.openedAt) >= c.cfg.TimeThreshold:
		return c.Flush(ctx, "time")
	}
	return nil
}

func (c *ArchiveConsumer) append(ctx context.Context, msg bus.Message) {
	if _, ok := c.buffered[msg.ID]; ok {
		// The visibility window reclaimed a message we are still holding
		return
	}

	var p post.CleanPost
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		// Poison payload: ack it away or it will be redelivered forever
		c.dropped++
		c.log.Warnw("Dropping undecodable message", "id", msg.ID, "error", err)
		if err := c.bus.Ack(ctx, c.cfg.Topic, ArchiveGroup, msg.ID); err != nil {
			c.log.Errorf("Failed to ack poison message %s: %v", msg.ID, err)
		}
		return
	}

	if len(c.buffer) == 0 {
		c.openedAt = c.now()
	}
	c.buffer = append(c.buffer, &p)
	c.pendingIDs = append(c.pendingIDs, msg.ID)
	c.buffered[msg.ID] = struct{}{}
	metrics.BusMessages.WithLabelValues(c.cfg.Topic, "delivered").Inc()
	if msg.DeliveryCount > 1 {
		metrics.BusRedeliveries.WithLabelValues(c.cfg.Topic, ArchiveGroup).Inc()
	}
}

// Flush writes the buffer as one batch and acknowledges its messages only
// after the write succeeds. On failure everything is retained for retry.
func (c *ArchiveConsumer) Flush(ctx context.Context, trigger string) error {
	if len(c.buffer) == 0 {
		return nil
	}

	batch := archive.NewBatch(c.buffer, c.openedAt)
	started := c.now()

	err := c.repo.SaveBatch(ctx, batch)
	metrics.RecordFlush(trigger, len(batch.Records), c.now().Sub(started), err)
	if err != nil {
		c.flushFailures++
		c.log.Errorw("Flush failed, batch retained",
			"trigger", trigger,
			"records", len(c.buffer),
			"error", err,
		)
		return errors.Wrap(errors.ErrFlushFailed, err.Error())
	}

	// Write is durable; advancing the cursor is now safe
	if err := c.bus.Ack(ctx, c.cfg.Topic, ArchiveGroup, c.pendingIDs...); err != nil {
		// The batch is archived; redelivered messages will be re-archived.
		// Duplicate rows in the sink beat lost data here.
		c.log.Errorf("Ack failed after durable write: %v", err)
	} else {
		metrics.BusMessages.WithLabelValues(c.cfg.Topic, "acked").Add(float64(len(c.pendingIDs)))
	}

	c.totalArchived += uint64(len(c.buffer))
	c.totalBatches++
	c.log.Infow("Batch flushed",
		"trigger", trigger,
		"batch_id", batch.ID,
		"records", len(c.buffer),
	)

	c.buffer = nil
	c.pendingIDs = nil
	c.buffered = make(map[string]struct{})
	metrics.ArchiveBufferSize.Set(0)
	return nil
}

// LogStats logs cumulative consumer statistics
func (c *ArchiveConsumer) LogStats(final bool) {
	c.log.Infow("Archive consumer stats",
		"final", final,
		"archived", c.totalArchived,
		"batches", c.totalBatches,
		"flush_failures", c.flushFailures,
		"dropped", c.dropped,
		"buffered", len(c.buffer),
	)
}

// Buffered returns the current buffer length, for tests
func (c *ArchiveConsumer) Buffered() int {
	return len(c.buffer)
}

// Stats returns cumulative counters
func (c *ArchiveConsumer) Stats() (archived, batches, failures uint64) {
	return c.totalArchived, c.totalBatches, c.flushFailures
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
