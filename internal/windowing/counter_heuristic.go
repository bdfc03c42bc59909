package windowing

import (
	"fmt"
	"unicode/utf8"
)

// TokenCounter estimates the input-token cost of a text fragment.
// Implementations must be deterministic and side-effect free so that
// truncation decisions are reproducible.
type TokenCounter interface {
	Count(text string) int
	// Exact reports whether counts come from a real sub-word tokenizer.
	Exact() bool
	Name() string
}

// DefaultCharsPerToken calibrates the heuristic for a mixed Latin/CJK workload.
const DefaultCharsPerToken = 3

// HeuristicCounter is the approximate fallback estimator.
// Rules:
//   - cost = rune count / CharsPerToken (integer division)
//   - CharsPerToken <= 0 uses DefaultCharsPerToken
//
// It under-counts dense scripts (one CJK rune is often a whole token) and
// over-counts long Latin words; treat its output as an estimate only.
type HeuristicCounter struct {
	CharsPerToken int
}

func (h HeuristicCounter) ratio() int {
	if h.CharsPerToken <= 0 {
		return DefaultCharsPerToken
	}
	return h.CharsPerToken
}

func (h HeuristicCounter) Count(text string) int {
	return utf8.RuneCountInString(text) / h.ratio()
}

func (HeuristicCounter) Exact() bool { return false }

func (h HeuristicCounter) Name() string {
	return fmt.Sprintf("approx-chars/%d", h.ratio())
}
