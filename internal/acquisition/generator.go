// Package acquisition holds the intake-side producer boundary. The real
// scraper lives outside this system; the generator here feeds the intake
// queue with synthetic traffic for local runs and load checks.
package acquisition

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"pulse/internal/domain/post"
	"pulse/internal/intake"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

var sampleTexts = []string{
	"nifty50 breakout above resistance, strong buying interest #nifty50",
	"bank nifty red candles, breakdown below support #banknifty",
	"massive selling pressure, market crash fear building up #sensex",
	"upper circuit again, rally continues with strong gains #smallcap",
	"gap down opening expected, weak global cues #nifty50",
	"reliance results positive, long build up visible #reliance",
	"inflation data bad for markets, correction expected #sensex",
	"support level holding, bullish momentum intact #banknifty",
}

var sampleTags = []string{"nifty50", "banknifty", "sensex", "reliance", "smallcap"}

// Generator produces synthetic RawPosts at a bounded rate
type Generator struct {
	queue   *intake.Queue
	limiter *rate.Limiter
	log     *logger.Logger
	rng     *rand.Rand
	seq     int64
}

// NewGenerator creates a generator pushing at most perSecond posts/s
func NewGenerator(queue *intake.Queue, perSecond float64) *Generator {
	if perSecond <= 0 {
		perSecond = 5
	}
	return &Generator{
		queue:   queue,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     logger.Get().With("component", "acquisition_generator"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run pushes posts until the context ends or the queue closes
func (g *Generator) Run(ctx context.Context) error {
	g.log.Info("Synthetic acquisition producer started")

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil
		}

		if err := g.queue.Push(ctx, g.next()); err != nil {
			if errors.Is(err, errors.ErrQueueClosed) || ctx.Err() != nil {
				g.log.Infow("Producer stopped", "produced", g.seq)
				return nil
			}
			g.log.Errorf("Push failed: %v", err)
		}
	}
}

func (g *Generator) next() *post.RawPost {
	g.seq++
	tag := sampleTags[g.rng.Intn(len(sampleTags))]

	return &post.RawPost{
		ID:       fmt.Sprintf("gen-%d", g.seq),
		Text:     sampleTexts[g.rng.Intn(len(sampleTexts))],
		AuthorID: fmt.Sprintf("author-%d", g.rng.Intn(50)),
		Author: post.AuthorMeta{
			Followers: int64(g.rng.Intn(100_000)),
			Verified:  g.rng.Intn(10) == 0,
			Likes:     int64(g.rng.Intn(5_000)),
		},
		Timestamp: time.Now().UTC(),
		Tags:      []string{tag},
	}
}
