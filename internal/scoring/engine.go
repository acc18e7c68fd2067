// Package scoring holds the stateful sliding-window signal engine and the
// default post scorer. Window state lives only in memory: after a restart
// it rebuilds from subsequent traffic, trading a short warm-up for not
// having to persist per-key state.
package scoring

import (
	"container/list"
	"time"

	"pulse/internal/domain/post"
	"pulse/internal/domain/signal"
	"pulse/internal/metrics"
)

// Aggregator reduces a window of per-post scores to one aggregate in
// [-1, 1]. The default is the mean.
type Aggregator func(window []float64) float64

// Mean is the default aggregator
func Mean(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// Config holds the engine thresholds
type Config struct {
	WindowCapacity int
	MinWindowSize  int
	BuyThreshold   float64
	SellThreshold  float64
	MinConfidence  float64
	// MaxTrackedKeys bounds window memory by evicting the least recently
	// updated key. Zero means unbounded.
	MaxTrackedKeys int
	DefaultKey     string
}

func (c *Config) applyDefaults() {
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 50
	}
	if c.MinWindowSize <= 0 {
		c.MinWindowSize = 5
	}
	if c.BuyThreshold == 0 {
		c.BuyThreshold = 0.25
	}
	if c.SellThreshold == 0 {
		c.SellThreshold = -0.25
	}
	if c.DefaultKey == "" {
		c.DefaultKey = "nifty50"
	}
}

type keyState struct {
	key    string
	win    *window
	lruRef *list.Element
}

// Engine maintains one bounded window per instrument key and evaluates
// the decision policy on every observation. It is owned by the single
// threaded signal stage, so it needs no locking.
type Engine struct {
	cfg    Config
	scorer PostScorer
	agg    Aggregator

	windows map[string]*keyState
	lru     *list.List // front = most recently updated

	observed uint64
	emitted  uint64
}

// NewEngine creates a signal engine
func NewEngine(cfg Config, scorer PostScorer, agg Aggregator) *Engine {
	cfg.applyDefaults()
	if scorer == nil {
		scorer = NewLexiconScorer()
	}
	if agg == nil {
		agg = Mean
	}
	return &Engine{
		cfg:     cfg,
		scorer:  scorer,
		agg:     agg,
		windows: make(map[string]*keyState),
		lru:     list.New(),
	}
}

// Observe folds one clean post into its key's window and returns a signal
// when the window is sufficiently populated and the aggregate crosses a
// threshold. Returns nil otherwise.
func (e *Engine) Observe(p *post.CleanPost) *signal.Signal {
	e.observed++

	score, factors := e.scorer.Score(p)
	key := p.Key(e.cfg.DefaultKey)

	st := e.state(key)
	st.win.push(score)
	e.lru.MoveToFront(st.lruRef)

	if st.win.size < e.cfg.MinWindowSize {
		return nil
	}

	aggregate := e.agg(st.win.values())
	confidence := 1.0 - st.win.stddev()
	if confidence < 0 {
		confidence = 0
	}

	direction := signal.DirectionNone
	switch {
	case aggregate > e.cfg.BuyThreshold && confidence >= e.cfg.MinConfidence:
		direction = signal.DirectionBuy
	case aggregate < e.cfg.SellThreshold && confidence >= e.cfg.MinConfidence:
		direction = signal.DirectionSell
	}
	if direction == signal.DirectionNone {
		return nil
	}

	e.emitted++
	metrics.SignalsEmitted.WithLabelValues(string(direction)).Inc()

	return &signal.Signal{
		Key:        key,
		Direction:  direction,
		Score:      aggregate,
		Confidence: confidence,
		WindowSize: st.win.size,
		Factors:    factors,
		EmittedAt:  time.Now().UTC(),
	}
}

// state returns the window for a key, creating it and evicting the least
// recently updated key when the tracked-key bound is hit.
func (e *Engine) state(key string) *keyState {
	if st, ok := e.windows[key]; ok {
		return st
	}

	if e.cfg.MaxTrackedKeys > 0 && len(e.windows) >= e.cfg.MaxTrackedKeys {
		oldest := e.lru.Back()
		if oldest != nil {
			evicted := oldest.Value.(*keyState)
			e.lru.Remove(oldest)
			delete(e.windows, evicted.key)
		}
	}

	st := &keyState{key: key, win: newWindow(e.cfg.WindowCapacity)}
	st.lruRef = e.lru.PushFront(st)
	e.windows[key] = st
	metrics.SignalWindows.Set(float64(len(e.windows)))
	return st
}

// DefaultKey returns the key untagged posts are aggregated under
func (e *Engine) DefaultKey() string {
	return e.cfg.DefaultKey
}

// WindowSize returns the current population for a key, for tests and
// stats logging
func (e *Engine) WindowSize(key string) int {
	if st, ok := e.windows[key]; ok {
		return st.win.size
	}
	return 0
}

// WindowValues returns a key's window contents oldest-first
func (e *Engine) WindowValues(key string) []float64 {
	if st, ok := e.windows[key]; ok {
		return st.win.values()
	}
	return nil
}

// Stats returns cumulative engine counters
func (e *Engine) Stats() (observed, emitted uint64, trackedKeys int) {
	return e.observed, e.emitted, len(e.windows)
}
