package consumers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/bus/membus"
	"pulse/internal/domain/post"
	"pulse/internal/domain/signal"
	"pulse/internal/notify"
	"pulse/internal/scoring"
)

// stubScorer assigns every post the same score
type stubScorer struct {
	score float64
}

func (s stubScorer) Score(p *post.CleanPost) (float64, []string) {
	return s.score, nil
}

func newSignalFixture(score float64) (*membus.Bus, *SignalConsumer, *notify.Memory, *scoring.Engine) {
	b := membus.New()
	engine := scoring.NewEngine(scoring.Config{MinWindowSize: 5}, stubScorer{score: score}, nil)
	notifier := notify.NewMemory()
	c := NewSignalConsumer(SignalConsumerConfig{
		Topic:     cleanTopic,
		ReadBlock: time.Millisecond,
	}, b, engine, notifier)
	return b, c, notifier, engine
}

func TestSignalConsumer_EmitsOnceWindowIsPopulated(t *testing.T) {
	b, c, notifier, _ := newSignalFixture(0.30)

	for i := 0; i < 6; i++ {
		publishClean(t, b, i)
	}
	require.NoError(t, c.Step(context.Background()))

	// Posts five and six both see a populated window above the threshold
	sigs := notifier.Signals()
	require.Len(t, sigs, 2)
	for _, sig := range sigs {
		assert.Equal(t, signal.DirectionBuy, sig.Direction)
		assert.InDelta(t, 0.30, sig.Score, 1e-9)
	}
	assert.Equal(t, 0, b.Pending(cleanTopic, SignalGroup), "window update acks every message")
}

func TestSignalConsumer_NeutralTrafficAcksWithoutSignals(t *testing.T) {
	b, c, notifier, engine := newSignalFixture(0.10)

	for i := 0; i < 6; i++ {
		publishClean(t, b, i)
	}
	require.NoError(t, c.Step(context.Background()))

	assert.Empty(t, notifier.Signals())
	assert.Equal(t, 0, b.Pending(cleanTopic, SignalGroup))

	// Untagged posts land in the default-key window
	assert.Equal(t, 6, engine.WindowSize(engine.DefaultKey()))
}

func TestSignalConsumer_PoisonMessageAckedAway(t *testing.T) {
	b, c, notifier, _ := newSignalFixture(0.30)

	_, err := b.Publish(context.Background(), cleanTopic, []byte("{not json"))
	require.NoError(t, err)

	require.NoError(t, c.Step(context.Background()))
	assert.Empty(t, notifier.Signals())
	assert.Equal(t, 0, b.Pending(cleanTopic, SignalGroup))
}

func TestSignalConsumer_IndependentOfArchiveGroup(t *testing.T) {
	b := membus.New()
	repo := &mockRepo{}
	archiver := NewArchiveConsumer(ArchiveConsumerConfig{
		Topic:         cleanTopic,
		SizeThreshold: 6,
		TimeThreshold: time.Hour,
		ReadBlock:     time.Millisecond,
	}, b, repo)

	engine := scoring.NewEngine(scoring.Config{MinWindowSize: 5}, stubScorer{score: 0.30}, nil)
	notifier := notify.NewMemory()
	analyst := NewSignalConsumer(SignalConsumerConfig{
		Topic:     cleanTopic,
		ReadBlock: time.Millisecond,
	}, b, engine, notifier)

	for i := 0; i < 6; i++ {
		publishClean(t, b, i)
	}

	// Each group consumes the full topic on its own cursor
	require.NoError(t, archiver.Step(context.Background()))
	require.NoError(t, analyst.Step(context.Background()))

	require.Len(t, repo.batches, 1)
	assert.Len(t, repo.batches[0].Records, 6)
	assert.NotEmpty(t, notifier.Signals())

	observed, _, _ := engine.Stats()
	assert.Equal(t, uint64(6), observed)
	assert.Equal(t, 0, b.Pending(cleanTopic, ArchiveGroup))
	assert.Equal(t, 0, b.Pending(cleanTopic, SignalGroup))
}
