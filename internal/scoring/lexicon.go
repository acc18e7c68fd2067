package scoring

import (
	"fmt"
	"math"
	"strings"

	"pulse/internal/domain/post"
)

// PostScorer turns one clean post into a score in [-1, 1] plus the
// factors that produced it. This is the external scoring contract; the
// lexicon scorer below is the default implementation.
type PostScorer interface {
	Score(p *post.CleanPost) (score float64, factors []string)
}

// lexicon maps sentiment-bearing tokens to directional weights.
// Mixed English and Hinglish market slang, carried over from the feeds
// this pipeline was built against.
var lexicon = map[string]float64{
	"breakout": 1.0, "green": 0.8, "buy": 0.9, "support": 0.7,
	"upper": 0.9, "long": 0.7, "bullish": 1.0, "rally": 0.8,
	"surge": 0.9, "gain": 0.7, "profit": 0.6, "high": 0.7,
	"strong": 0.6, "positive": 0.7, "circuit": 0.9, "target": 0.6,
	"upar": 0.8, "tezi": 0.8, "badhega": 0.7, "lelo": 0.6,
	"kharido": 0.7, "badiya": 0.6, "mauka": 0.7,

	"breakdown": -1.0, "red": -0.8, "sell": -0.9, "resistance": -0.7,
	"lower": -0.9, "short": -0.7, "bearish": -1.0, "crash": -1.0,
	"fall": -0.8, "drop": -0.8, "loss": -0.7, "low": -0.7,
	"weak": -0.6, "negative": -0.7, "dump": -0.9, "exit": -0.6,
	"niche": -0.8, "mandi": -0.8, "girega": -0.7, "becho": -0.6,
	"khatam": -0.8, "duba": -0.9, "nikalo": -0.7,
}

// Author tier weights: a verified account's read on the market counts
// for more than an anonymous one
const (
	tierVerified   = 1.0
	tierInfluencer = 0.7
	tierDefault    = 0.3

	influencerFollowers = 10_000
)

// Composite blend weights (text / author / engagement)
const (
	weightText       = 0.5
	weightAuthor     = 0.3
	weightEngagement = 0.2

	textNormalizer = 5.0
)

// LexiconScorer is the default PostScorer: lexicon text score, author
// tier and log-scaled engagement blended into one directional composite.
type LexiconScorer struct{}

// NewLexiconScorer creates the default scorer
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{}
}

// Score computes the composite score for one post
func (s *LexiconScorer) Score(p *post.CleanPost) (float64, []string) {
	factors := make([]string, 0, 3)

	textScore, matched := s.textScore(p.Text)
	factors = append(factors, fmt.Sprintf("text: %.2f (%d words)", textScore, matched))

	authorScore, tier := s.authorScore(p.Author)
	factors = append(factors, fmt.Sprintf("author: %s (%.1f)", tier, authorScore))

	engScore := s.engagementScore(p.Author.Likes)
	factors = append(factors, fmt.Sprintf("engagement: %.2f (%d likes)", engScore, p.Author.Likes))

	sign := 1.0
	if textScore < 0 {
		sign = -1.0
	}

	composite := sign * (weightText*math.Abs(textScore) +
		weightAuthor*authorScore +
		weightEngagement*engScore)

	return clamp(composite), factors
}

func (s *LexiconScorer) textScore(text string) (float64, int) {
	raw := 0.0
	matched := 0
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?#@()\"'")
		if weight, ok := lexicon[word]; ok {
			raw += weight
			matched++
		}
	}
	return clamp(raw / textNormalizer), matched
}

func (s *LexiconScorer) authorScore(meta post.AuthorMeta) (float64, string) {
	switch {
	case meta.Verified:
		return tierVerified, "verified"
	case meta.Followers >= influencerFollowers:
		return tierInfluencer, "influencer"
	default:
		return tierDefault, "default"
	}
}

func (s *LexiconScorer) engagementScore(likes int64) float64 {
	if likes < 0 {
		likes = 0
	}
	return math.Min(1.0, math.Log10(float64(likes)+1)/4.0)
}

func clamp(v float64) float64 {
	return math.Max(-1.0, math.Min(1.0, v))
}
