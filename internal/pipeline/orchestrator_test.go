package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/archive"
	"pulse/internal/bus/membus"
	"pulse/internal/cleaning"
	"pulse/internal/consumers"
	"pulse/internal/dedup"
	"pulse/internal/domain/post"
	"pulse/internal/intake"
	"pulse/internal/notify"
	"pulse/internal/scoring"
)

type memRepo struct {
	saved chan *archive.Batch
}

func (r *memRepo) SaveBatch(ctx context.Context, batch *archive.Batch) error {
	r.saved <- batch
	return nil
}

type bullishScorer struct{}

func (bullishScorer) Score(p *post.CleanPost) (float64, []string) {
	return 0.5, nil
}

// Full pipeline over in-memory infrastructure: raw posts pushed on the
// intake queue come out the other end as an archived batch and a signal.
func TestOrchestrator_EndToEnd(t *testing.T) {
	const topic = "stream:clean"
	const records = 10

	b := membus.New()
	queue := intake.NewQueue(100)
	filter := dedup.NewMemoryFilter(time.Hour)
	repo := &memRepo{saved: make(chan *archive.Batch, 4)}
	notifier := notify.NewMemory()

	cleaners := cleaning.NewStage(
		cleaning.StageConfig{Workers: 3, CleanTopic: topic},
		queue,
		cleaning.NewChain(cleaning.DefaultSteps(5)...),
		filter,
		b,
	)
	archiver := consumers.NewArchiveConsumer(consumers.ArchiveConsumerConfig{
		Topic:         topic,
		SizeThreshold: records,
		TimeThreshold: time.Hour,
		ReadBlock:     10 * time.Millisecond,
	}, b, repo)
	engine := scoring.NewEngine(scoring.Config{MinWindowSize: 5}, bullishScorer{}, nil)
	analyst := consumers.NewSignalConsumer(consumers.SignalConsumerConfig{
		Topic:     topic,
		ReadBlock: 10 * time.Millisecond,
	}, b, engine, notifier)

	orch := New(queue, cleaners, archiver, analyst, 5*time.Second)
	require.NoError(t, orch.Start(context.Background()))

	for i := 0; i < records; i++ {
		err := queue.Push(context.Background(), &post.RawPost{
			ID:        fmt.Sprintf("p-%d", i),
			Text:      fmt.Sprintf("nifty50 breakout rally number %d", i),
			AuthorID:  fmt.Sprintf("author-%d", i),
			Timestamp: time.Now().UTC(),
			Tags:      []string{"nifty50"},
		})
		require.NoError(t, err)
	}

	select {
	case batch := <-repo.saved:
		assert.Len(t, batch.Records, records)
	case <-time.After(5 * time.Second):
		t.Fatal("archive batch never arrived")
	}

	require.Eventually(t, func() bool {
		return len(notifier.Signals()) > 0
	}, 5*time.Second, 10*time.Millisecond, "populated bullish window must emit a signal")

	require.NoError(t, orch.Stop())

	published, rejected, _, failures := cleaners.Stats()
	assert.Equal(t, uint64(records), published)
	assert.Zero(t, rejected)
	assert.Zero(t, failures)
	assert.Equal(t, 0, b.Pending(topic, consumers.ArchiveGroup))
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	const topic = "stream:clean"

	b := membus.New()
	queue := intake.NewQueue(10)
	repo := &memRepo{saved: make(chan *archive.Batch, 1)}

	cleaners := cleaning.NewStage(
		cleaning.StageConfig{Workers: 1, CleanTopic: topic},
		queue,
		cleaning.NewChain(cleaning.DefaultSteps(5)...),
		dedup.NewMemoryFilter(time.Hour),
		b,
	)
	archiver := consumers.NewArchiveConsumer(consumers.ArchiveConsumerConfig{
		Topic:     topic,
		ReadBlock: 10 * time.Millisecond,
	}, b, repo)
	analyst := consumers.NewSignalConsumer(consumers.SignalConsumerConfig{
		Topic:     topic,
		ReadBlock: 10 * time.Millisecond,
	}, b, scoring.NewEngine(scoring.Config{}, nil, nil), notify.NewMemory())

	orch := New(queue, cleaners, archiver, analyst, 5*time.Second)
	require.NoError(t, orch.Start(context.Background()))
	require.Error(t, orch.Start(context.Background()), "second start must be refused")

	require.NoError(t, orch.Stop())
	require.NoError(t, orch.Stop(), "repeated stop is a no-op")
}

// Records buffered in the intake queue when Stop is called are drained by
// the cleaning workers before the consumers are cancelled.
func TestOrchestrator_StopDrainsIntakeQueue(t *testing.T) {
	const topic = "stream:clean"
	const records = 5

	b := membus.New()
	queue := intake.NewQueue(10)
	repo := &memRepo{saved: make(chan *archive.Batch, 1)}

	cleaners := cleaning.NewStage(
		cleaning.StageConfig{Workers: 2, CleanTopic: topic},
		queue,
		cleaning.NewChain(cleaning.DefaultSteps(5)...),
		dedup.NewMemoryFilter(time.Hour),
		b,
	)
	archiver := consumers.NewArchiveConsumer(consumers.ArchiveConsumerConfig{
		Topic:         topic,
		SizeThreshold: 100,
		TimeThreshold: time.Hour,
		ReadBlock:     10 * time.Millisecond,
	}, b, repo)
	analyst := consumers.NewSignalConsumer(consumers.SignalConsumerConfig{
		Topic:     topic,
		ReadBlock: 10 * time.Millisecond,
	}, b, scoring.NewEngine(scoring.Config{}, nil, nil), notify.NewMemory())

	// Fill the queue before any worker runs, then stop immediately
	for i := 0; i < records; i++ {
		err := queue.Push(context.Background(), &post.RawPost{
			ID:        fmt.Sprintf("p-%d", i),
			Text:      fmt.Sprintf("breakout watch position %d", i),
			AuthorID:  fmt.Sprintf("author-%d", i),
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	orch := New(queue, cleaners, archiver, analyst, 5*time.Second)
	require.NoError(t, orch.Start(context.Background()))
	require.NoError(t, orch.Stop())

	published, _, _, failures := cleaners.Stats()
	assert.Equal(t, uint64(records), published, "buffered records must be cleaned before stop completes")
	assert.Zero(t, failures)
	assert.Equal(t, records, b.Len(topic), "every drained record reaches the clean topic")
}

// Shutdown flushes whatever the archival stage is holding, so a partial
// batch survives a graceful stop.
func TestOrchestrator_ShutdownFlushesPartialBatch(t *testing.T) {
	const topic = "stream:clean"

	b := membus.New()
	queue := intake.NewQueue(10)
	repo := &memRepo{saved: make(chan *archive.Batch, 1)}

	cleaners := cleaning.NewStage(
		cleaning.StageConfig{Workers: 1, CleanTopic: topic},
		queue,
		cleaning.NewChain(cleaning.DefaultSteps(5)...),
		dedup.NewMemoryFilter(time.Hour),
		b,
	)
	archiver := consumers.NewArchiveConsumer(consumers.ArchiveConsumerConfig{
		Topic:         topic,
		SizeThreshold: 100,
		TimeThreshold: time.Hour,
		ReadBlock:     10 * time.Millisecond,
	}, b, repo)
	analyst := consumers.NewSignalConsumer(consumers.SignalConsumerConfig{
		Topic:     topic,
		ReadBlock: 10 * time.Millisecond,
	}, b, scoring.NewEngine(scoring.Config{}, nil, nil), notify.NewMemory())

	orch := New(queue, cleaners, archiver, analyst, 5*time.Second)
	require.NoError(t, orch.Start(context.Background()))

	for i := 0; i < 3; i++ {
		err := queue.Push(context.Background(), &post.RawPost{
			ID:        fmt.Sprintf("p-%d", i),
			Text:      fmt.Sprintf("market update long entry %d", i),
			AuthorID:  fmt.Sprintf("author-%d", i),
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	// Let the records travel queue -> cleaners -> bus -> archive buffer.
	// Delivered-but-unacked equals buffered while no flush has run.
	require.Eventually(t, func() bool {
		return b.Pending(topic, consumers.ArchiveGroup) == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, orch.Stop())

	select {
	case batch := <-repo.saved:
		assert.Len(t, batch.Records, 3)
	default:
		t.Fatal("graceful stop did not flush the open batch")
	}
}
