package cleaning

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"pulse/internal/bus"
	"pulse/internal/dedup"
	"pulse/internal/domain/post"
	"pulse/internal/intake"
	"pulse/internal/metrics"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

// Stage is the cleaning/validation worker pool. N workers pull RawPosts
// from the shared intake queue, clean and validate them, run the shared
// dedup check and publish survivors to the clean topic. Workers are
// stateless between records; a crash loses at most one in-flight record.
type Stage struct {
	queue   *intake.Queue
	cleaner Cleaner
	filter  dedup.Filter
	bus     bus.Bus

	workers int
	topic   string
	log     *logger.Logger

	published uint64
	rejected  uint64
	dupes     uint64
	failures  uint64

	wg sync.WaitGroup
}

// StageConfig holds cleaning stage configuration
type StageConfig struct {
	Workers    int
	CleanTopic string
}

// NewStage creates the cleaning worker pool
func NewStage(cfg StageConfig, queue *intake.Queue, cleaner Cleaner, filter dedup.Filter, b bus.Bus) *Stage {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Stage{
		queue:   queue,
		cleaner: cleaner,
		filter:  filter,
		bus:     b,
		workers: cfg.Workers,
		topic:   cfg.CleanTopic,
		log:     logger.Get().With("component", "cleaning_stage"),
	}
}

// Start spawns the worker goroutines. They run until the context is
// cancelled or the intake queue is closed and drained.
func (s *Stage) Start(ctx context.Context) {
	s.log.Infow("Starting cleaning workers", "count", s.workers, "topic", s.topic)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.runWorker(ctx, id)
		}(i)
	}
}

// Wait blocks until every worker has exited
func (s *Stage) Wait() {
	s.wg.Wait()
	s.log.Infow("Cleaning stage stopped",
		"published", atomic.LoadUint64(&s.published),
		"rejected", atomic.LoadUint64(&s.rejected),
		"duplicates", atomic.LoadUint64(&s.dupes),
		"failures", atomic.LoadUint64(&s.failures),
	)
}

func (s *Stage) runWorker(ctx context.Context, id int) {
	log := s.log.With("worker", id)
	log.Debug("Worker started")

	for {
		raw, err := s.queue.Pull(ctx)
		if err != nil {
			if errors.Is(err, errors.ErrQueueClosed) || ctx.Err() != nil {
				log.Debug("Worker stopping")
				return
			}
			log.Errorf("Queue pull failed: %v", err)
			continue
		}

		metrics.IntakeQueueDepth.Set(float64(s.queue.Len()))

		if err := s.process(ctx, raw); err != nil && ctx.Err() == nil {
			log.Errorf("Failed to process record %s: %v", raw.ID, err)
		}
	}
}

// process runs one record through clean -> fingerprint -> dedup -> publish.
// A rejection or duplicate is a discard, not an error.
func (s *Stage) process(ctx context.Context, raw *post.RawPost) error {
	text, err := s.cleaner.Clean(raw.Text)
	if err != nil {
		var rej *errors.RejectionError
		if errors.As(err, &rej) {
			atomic.AddUint64(&s.rejected, 1)
			metrics.RecordsProcessed.WithLabelValues("rejected").Inc()
			metrics.RejectionsByStep.WithLabelValues(rej.Step).Inc()
			s.log.Debugw("Record rejected", "id", raw.ID, "step", rej.Step, "reason", rej.Reason)
			return nil
		}
		atomic.AddUint64(&s.failures, 1)
		metrics.RecordsProcessed.WithLabelValues("error").Inc()
		return errors.Wrap(err, "clean")
	}

	fp := post.Fingerprint(text, raw.AuthorID)

	seen, err := s.filter.SeenOrMark(ctx, fp)
	if err != nil {
		atomic.AddUint64(&s.failures, 1)
		metrics.RecordsProcessed.WithLabelValues("error").Inc()
		return errors.Wrap(err, "dedup check")
	}
	if seen {
		atomic.AddUint64(&s.dupes, 1)
		metrics.RecordsProcessed.WithLabelValues("duplicate").Inc()
		s.log.Debugw("Record dropped as duplicate", "id", raw.ID, "fingerprint", fp)
		return nil
	}

	clean := &post.CleanPost{
		ID:          raw.ID,
		Text:        text,
		AuthorID:    raw.AuthorID,
		Author:      raw.Author,
		Timestamp:   raw.Timestamp,
		Tags:        raw.Tags,
		Fingerprint: fp,
		ProcessedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(clean)
	if err != nil {
		atomic.AddUint64(&s.failures, 1)
		return errors.Wrap(err, "marshal clean post")
	}

	if _, err := s.bus.Publish(ctx, s.topic, payload); err != nil {
		atomic.AddUint64(&s.failures, 1)
		metrics.RecordsProcessed.WithLabelValues("error").Inc()
		return errors.Wrap(err, "publish clean post")
	}

	atomic.AddUint64(&s.published, 1)
	metrics.RecordsProcessed.WithLabelValues("published").Inc()
	metrics.BusMessages.WithLabelValues(s.topic, "published").Inc()
	return nil
}

// Stats returns cumulative stage counters
func (s *Stage) Stats() (published, rejected, duplicates, failures uint64) {
	return atomic.LoadUint64(&s.published),
		atomic.LoadUint64(&s.rejected),
		atomic.LoadUint64(&s.dupes),
		atomic.LoadUint64(&s.failures)
}
