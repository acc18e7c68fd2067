package signal

import "time"

// Direction is the trading action a signal recommends
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionNone Direction = "NONE"
)

// Signal is emitted when a key's window score crosses a threshold.
// Immutable once emitted; delivery to the notification channel is
// fire-and-forget.
type Signal struct {
	Key        string    `json:"key"`
	Direction  Direction `json:"direction"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	WindowSize int       `json:"window_size"`
	Factors    []string  `json:"factors,omitempty"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// Actionable reports whether the signal recommends a trade
func (s *Signal) Actionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionSell
}
