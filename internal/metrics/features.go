// Package metrics derives size features from message text.
package metrics

import (
	"strings"
	"unicode/utf8"

	"github.com/petasbytes/go-chat/internal/windowing"
)

// Features holds local size features of one message.
type Features struct {
	Bytes int
	Runes int
	Words int
	Lines int
	// Tokens is the counter's estimate; zero when no counter was given.
	Tokens int
	// Exact is false when Tokens came from the approximate counter.
	Exact bool
}

// CountFeatures computes byte, rune, word, line and token counts for s.
func CountFeatures(s string, counter windowing.TokenCounter) Features {
	f := Features{
		Bytes: len(s),
		Runes: utf8.RuneCountInString(s),
		Words: countWords(s),
		Lines: countLines(s),
	}
	if counter != nil {
		f.Tokens = counter.Count(s)
		f.Exact = counter.Exact()
	}
	return f
}

// Fields renders f for a telemetry event.
func (f Features) Fields() map[string]any {
	return map[string]any{
		"bytes":        f.Bytes,
		"runes":        f.Runes,
		"words":        f.Words,
		"lines":        f.Lines,
		"tokens":       f.Tokens,
		"tokens_exact": f.Exact,
	}
}

// countWords counts words split on Unicode whitespace.
func countWords(s string) int {
	return len(strings.Fields(s))
}

// countLines returns 0 for empty strings; otherwise 1 plus the number of '\n' runes.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	return 1 + strings.Count(s, "\n")
}
