package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/archive"
	"pulse/internal/bus/membus"
	"pulse/internal/domain/post"
	"pulse/pkg/errors"
)

// mockRepo records saved batches and can fail on demand
type mockRepo struct {
	batches  []*archive.Batch
	failNext bool
}

func (r *mockRepo) SaveBatch(ctx context.Context, batch *archive.Batch) error {
	if r.failNext {
		r.failNext = false
		return fmt.Errorf("sink unavailable")
	}
	r.batches = append(r.batches, batch)
	return nil
}

const cleanTopic = "stream:clean"

func publishClean(t *testing.T, b *membus.Bus, i int) {
	t.Helper()
	p := post.CleanPost{
		ID:          fmt.Sprintf("p-%d", i),
		Text:        fmt.Sprintf("clean text %d", i),
		AuthorID:    "author",
		Timestamp:   time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Fingerprint: fmt.Sprintf("fp-%d", i),
	}
	payload, err := json.Marshal(&p)
	require.NoError(t, err)
	_, err = b.Publish(context.Background(), cleanTopic, payload)
	require.NoError(t, err)
}

func batchIDs(batch *archive.Batch) []string {
	ids := make([]string, 0, len(batch.Records))
	for _, rec := range batch.Records {
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestArchiveConsumer_SizeTriggerFlushesInArrivalOrder(t *testing.T) {
	b := membus.New()
	repo := &mockRepo{}
	c := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 3,
		TimeThreshold: time.Hour,
		ReadBlock:     time.Millisecond,
	}, b, repo)

	for i := 0; i < 3; i++ {
		publishClean(t, b, i)
	}

	require.NoError(t, c.Step(context.Background()))

	require.Len(t, repo.batches, 1)
	assert.Equal(t, []string{"p-0", "p-1", "p-2"}, batchIDs(repo.batches[0]))
	assert.Equal(t, 0, c.Buffered())
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup), "everything acked after the durable write")
}

func TestArchiveConsumer_TimeTriggerFiresOnIdleReads(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := membus.New(membus.WithClock(clock))
	repo := &mockRepo{}
	c := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 50,
		TimeThreshold: 60 * time.Second,
		ReadBlock:     time.Millisecond,
	}, b, repo)
	c.SetClock(clock)

	publishClean(t, b, 0)
	publishClean(t, b, 1)

	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, 2, c.Buffered(), "below size threshold, batch stays open")
	assert.Empty(t, repo.batches)

	// No new traffic; only the clock moves past the flush window
	now = now.Add(61 * time.Second)
	require.NoError(t, c.Step(context.Background()))

	require.Len(t, repo.batches, 1)
	assert.Equal(t, []string{"p-0", "p-1"}, batchIDs(repo.batches[0]))
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup))
}

func TestArchiveConsumer_FailedFlushRetainsBatchAndAcksNothing(t *testing.T) {
	b := membus.New()
	repo := &mockRepo{failNext: true}
	c := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 2,
		TimeThreshold: time.Hour,
		ReadBlock:     time.Millisecond,
	}, b, repo)

	publishClean(t, b, 0)
	publishClean(t, b, 1)

	err := c.Step(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFlushFailed))
	assert.Equal(t, 2, c.Buffered(), "failed write keeps the buffer")
	assert.Equal(t, 2, b.Pending(cleanTopic, ArchiveGroup), "no ack before a durable write")
	assert.Empty(t, repo.batches)

	// Sink recovers; the retained batch flushes on the next iteration
	require.NoError(t, c.Step(context.Background()))
	require.Len(t, repo.batches, 1)
	assert.Equal(t, []string{"p-0", "p-1"}, batchIDs(repo.batches[0]))
	assert.Equal(t, 0, c.Buffered())
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup))

	_, batches, failures := c.Stats()
	assert.Equal(t, uint64(1), batches)
	assert.Equal(t, uint64(1), failures)
}

func TestArchiveConsumer_PoisonMessageAckedAndDropped(t *testing.T) {
	b := membus.New()
	repo := &mockRepo{}
	c := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 1,
		TimeThreshold: time.Hour,
		ReadBlock:     time.Millisecond,
	}, b, repo)

	_, err := b.Publish(context.Background(), cleanTopic, []byte("{not json"))
	require.NoError(t, err)
	publishClean(t, b, 0)

	require.NoError(t, c.Step(context.Background()))

	require.Len(t, repo.batches, 1)
	assert.Equal(t, []string{"p-0"}, batchIDs(repo.batches[0]))
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup), "poison message must not be redelivered forever")
}

func TestArchiveConsumer_RedeliveryWhileBufferedIsNotDuplicated(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := membus.New(membus.WithClock(clock), membus.WithVisibility(5*time.Second))
	repo := &mockRepo{}
	c := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 50,
		TimeThreshold: time.Hour,
		ReadBlock:     time.Millisecond,
	}, b, repo)
	c.SetClock(clock)

	publishClean(t, b, 0)
	publishClean(t, b, 1)
	require.NoError(t, c.Step(context.Background()))
	require.Equal(t, 2, c.Buffered())

	// Visibility expires while the batch is still open: the bus redelivers
	// both messages to the same consumer
	now = now.Add(6 * time.Second)
	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, 2, c.Buffered(), "redelivered ids must not land in the buffer twice")

	require.NoError(t, c.Flush(context.Background(), "size"))
	require.Len(t, repo.batches, 1)
	assert.Equal(t, []string{"p-0", "p-1"}, batchIDs(repo.batches[0]))
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup))
}

func TestArchiveConsumer_MixedTriggersArchiveEverythingOnce(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	b := membus.New(membus.WithClock(clock))
	repo := &mockRepo{}
	c := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 50,
		TimeThreshold: 60 * time.Second,
		ReadBatchSize: 10,
		ReadBlock:     time.Millisecond,
	}, b, repo)
	c.SetClock(clock)

	for i := 0; i < 60; i++ {
		publishClean(t, b, i)
	}

	// 50 records fill the first batch over five reads; the remainder sits
	// until the time trigger collects it
	for i := 0; i < 7; i++ {
		require.NoError(t, c.Step(context.Background()))
	}
	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0].Records, 50)
	assert.Equal(t, 10, c.Buffered())

	now = now.Add(61 * time.Second)
	require.NoError(t, c.Step(context.Background()))
	require.Len(t, repo.batches, 2)
	assert.Len(t, repo.batches[1].Records, 10)

	seen := make(map[string]struct{})
	for _, batch := range repo.batches {
		for _, rec := range batch.Records {
			_, dup := seen[rec.ID]
			assert.False(t, dup, "record %s archived twice", rec.ID)
			seen[rec.ID] = struct{}{}
		}
	}
	assert.Len(t, seen, 60)
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup))
}
