package cleaning

import (
	"regexp"
	"strings"

	"pulse/pkg/errors"
)

// Step transforms or rejects text on its way to becoming a CleanPost.
// A step returns a RejectionError to drop the record; rejections are
// counted and discarded, never retried.
type Step interface {
	Name() string
	Apply(text string) (string, error)
}

var (
	urlPattern        = regexp.MustCompile(`https?://\S+|www\.\S+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// hasRepeatedRun reports whether text contains a non-newline character
// repeated 10 or more times in a row (the pattern `(.)\1{9,}`, which
// Go's RE2 engine cannot express because it lacks backreferences).
func hasRepeatedRun(text string) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev && r != '\n' {
			run++
			if run >= 10 {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// currencySymbols maps symbols to ISO-ish codes so the scorer sees
// comparable tokens regardless of locale
var currencySymbols = map[string]string{
	"₹": "INR ",
	"$": "USD ",
	"€": "EUR ",
	"£": "GBP ",
}

// StripURLs removes links; they carry no sentiment and break tokenization
type StripURLs struct{}

func (StripURLs) Name() string { return "strip_urls" }

func (StripURLs) Apply(text string) (string, error) {
	return urlPattern.ReplaceAllString(text, ""), nil
}

// NormalizeCurrency replaces currency symbols with word tokens
type NormalizeCurrency struct{}

func (NormalizeCurrency) Name() string { return "normalize_currency" }

func (NormalizeCurrency) Apply(text string) (string, error) {
	for sym, code := range currencySymbols {
		text = strings.ReplaceAll(text, sym, code)
	}
	return text, nil
}

// CollapseWhitespace folds runs of whitespace and trims the result
type CollapseWhitespace struct{}

func (CollapseWhitespace) Name() string { return "collapse_whitespace" }

func (CollapseWhitespace) Apply(text string) (string, error) {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " ")), nil
}

// MinLength rejects text too short to score after cleaning
type MinLength struct {
	Min int
}

func (MinLength) Name() string { return "min_length" }

func (s MinLength) Apply(text string) (string, error) {
	min := s.Min
	if min <= 0 {
		min = 10
	}
	if len(text) < min {
		return "", errors.NewRejection(s.Name(), "too short after cleaning")
	}
	return text, nil
}

// SpamHeuristic rejects obvious junk: long single-character runs and
// posts that are mostly hashtags
type SpamHeuristic struct{}

func (SpamHeuristic) Name() string { return "spam_heuristic" }

func (s SpamHeuristic) Apply(text string) (string, error) {
	if hasRepeatedRun(text) {
		return "", errors.NewRejection(s.Name(), "repeated character run")
	}

	fields := strings.Fields(text)
	if len(fields) >= 4 {
		tags := 0
		for _, f := range fields {
			if strings.HasPrefix(f, "#") {
				tags++
			}
		}
		if tags*2 > len(fields) {
			return "", errors.NewRejection(s.Name(), "mostly hashtags")
		}
	}
	return text, nil
}

// DefaultSteps is the standard cleaning chain, in order
func DefaultSteps(minLength int) []Step {
	return []Step{
		StripURLs{},
		NormalizeCurrency{},
		CollapseWhitespace{},
		MinLength{Min: minLength},
		SpamHeuristic{},
	}
}
