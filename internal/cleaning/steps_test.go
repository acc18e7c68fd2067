package cleaning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/pkg/errors"
)

func TestStripURLs(t *testing.T) {
	got, err := StripURLs{}.Apply("buy nifty50 now https://example.com/chart?x=1 target 20k www.tips.example")
	require.NoError(t, err)
	assert.Equal(t, "buy nifty50 now  target 20k ", got)
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency{}.Apply("target ₹500 or $6")
	require.NoError(t, err)
	assert.Equal(t, "target INR 500 or USD 6", got)
}

func TestCollapseWhitespace(t *testing.T) {
	got, err := CollapseWhitespace{}.Apply("  market \t\n  rally   today ")
	require.NoError(t, err)
	assert.Equal(t, "market rally today", got)
}

func TestMinLength_RejectsShortText(t *testing.T) {
	_, err := MinLength{Min: 10}.Apply("too short")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRejected))

	var rej *errors.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "min_length", rej.Step)
}

func TestSpamHeuristic(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		rejected bool
	}{
		{"normal post", "nifty breakout above resistance strong buying", false},
		{"repeated characters", "buy nowwwwwwwwwwww best stock", true},
		{"mostly hashtags", "#nifty #sensex #stocks buy #tips #market #trading", true},
		{"few hashtags", "nifty breakout looks strong today #nifty", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SpamHeuristic{}.Apply(tt.text)
			if tt.rejected {
				assert.True(t, errors.Is(err, errors.ErrRejected))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChain_StopsAtFirstRejection(t *testing.T) {
	chain := NewChain(DefaultSteps(10)...)

	// URL is stripped first, leaving text below the length floor
	_, err := chain.Clean("https://example.com/a")
	require.Error(t, err)

	var rej *errors.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "min_length", rej.Step)
}

func TestChain_CleansEndToEnd(t *testing.T) {
	chain := NewChain(DefaultSteps(10)...)

	got, err := chain.Clean("  nifty50   rally https://t.co/abc target ₹20000  ")
	require.NoError(t, err)
	assert.Equal(t, "nifty50 rally target INR 20000", got)
}
