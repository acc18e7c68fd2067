// Package pipeline owns stage lifecycle: it starts the cleaning worker
// pool and the two bus consumers, and stops them cooperatively. Stages
// only communicate through the intake queue and the bus.
package pipeline

import (
	"context"
	"sync"
	"time"

	"pulse/internal/cleaning"
	"pulse/internal/consumers"
	"pulse/internal/intake"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

// Orchestrator starts and stops all pipeline stages
type Orchestrator struct {
	queue    *intake.Queue
	cleaners *cleaning.Stage
	archiver *consumers.ArchiveConsumer
	signals  *consumers.SignalConsumer
	log      *logger.Logger

	stopTimeout time.Duration

	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	cleanersDone chan struct{}
	running      bool
}

// New creates an orchestrator over the given stages
func New(queue *intake.Queue, cleaners *cleaning.Stage, archiver *consumers.ArchiveConsumer, signals *consumers.SignalConsumer, stopTimeout time.Duration) *Orchestrator {
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Orchestrator{
		queue:       queue,
		cleaners:    cleaners,
		archiver:    archiver,
		signals:     signals,
		stopTimeout: stopTimeout,
		log:         logger.Get().With("component", "orchestrator"),
	}
}

// Start launches every stage. It returns immediately; stages run until
// Stop is called or the parent context is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return errors.Wrap(errors.ErrAlreadyExists, "orchestrator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.cleanersDone = make(chan struct{})
	o.running = true

	var wg sync.WaitGroup

	o.cleaners.Start(runCtx)
	wg.Add(1)
	cleanersDone := o.cleanersDone
	go func() {
		defer wg.Done()
		o.cleaners.Wait()
		close(cleanersDone)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.archiver.Run(runCtx); err != nil {
			o.log.Errorf("Archive consumer exited with error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.signals.Run(runCtx); err != nil {
			o.log.Errorf("Signal consumer exited with error: %v", err)
		}
	}()

	done := o.done
	go func() {
		wg.Wait()
		close(done)
	}()

	o.log.Info("Pipeline started")
	return nil
}

// Stop asks every stage to finish its current unit and waits up to the
// graceful timeout. The archival stage performs its final flush during
// this window. Stages still running after the grace period are abandoned;
// the loss is bounded to one in-flight batch or record, which the bus
// redelivers on next start.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	done := o.done
	cleanersDone := o.cleanersDone
	o.running = false
	o.mu.Unlock()

	o.log.Infow("Stopping pipeline", "grace_period", o.stopTimeout)
	deadline := time.Now().Add(o.stopTimeout)

	// Closing the queue lets cleaning workers drain what is buffered;
	// the consumers keep their context until the drain is done, so
	// drained records still reach the bus
	o.queue.Close()
	select {
	case <-cleanersDone:
	case <-time.After(time.Until(deadline)):
		o.log.Warn("Grace period exceeded while draining the intake queue")
	}
	cancel()

	select {
	case <-done:
		o.log.Info("Pipeline stopped")
		return nil
	case <-time.After(time.Until(deadline)):
		o.log.Warn("Grace period exceeded, abandoning remaining stages")
		return errors.Wrap(errors.ErrTimeout, "pipeline stop")
	}
}

// Done exposes completion to callers that want to wait for a natural
// shutdown (for example after the parent context ends)
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}
