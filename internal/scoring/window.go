package scoring

import "math"

// window is a fixed-capacity ring buffer of per-post scores for one key.
// The oldest score is evicted on overflow. Running sums keep aggregate
// recomputation O(1) per observation.
type window struct {
	scores []float64
	head   int
	size   int
	sum    float64
	sumSq  float64
}

func newWindow(capacity int) *window {
	return &window{scores: make([]float64, capacity)}
}

// push appends a score, evicting the oldest when full
func (w *window) push(score float64) {
	if w.size == len(w.scores) {
		old := w.scores[w.head]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.size++
	}
	w.scores[w.head] = score
	w.sum += score
	w.sumSq += score * score
	w.head = (w.head + 1) % len(w.scores)
}

// values returns the window contents oldest-first
func (w *window) values() []float64 {
	out := make([]float64, 0, w.size)
	start := w.head - w.size
	for i := 0; i < w.size; i++ {
		out = append(out, w.scores[((start+i)%len(w.scores)+len(w.scores))%len(w.scores)])
	}
	return out
}

// mean returns the window average
func (w *window) mean() float64 {
	if w.size == 0 {
		return 0
	}
	return w.sum / float64(w.size)
}

// stddev returns the population standard deviation
func (w *window) stddev() float64 {
	if w.size == 0 {
		return 0
	}
	n := float64(w.size)
	variance := w.sumSq/n - (w.sum/n)*(w.sum/n)
	if variance < 0 {
		// Floating point drift can push a near-zero variance negative
		variance = 0
	}
	return math.Sqrt(variance)
}
