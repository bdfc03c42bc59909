package windowing

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding suits OpenAI-compatible chat models (gpt-3.5/4 family and
// most instruction-tuned open models served behind the same API).
const DefaultEncoding = "cl100k_base"

// ModeApprox selects the heuristic counter explicitly.
const ModeApprox = "approx"

// BPECounter counts tokens exactly with a byte-pair encoding table.
type BPECounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewBPECounter loads the named encoding. Loading may read a local cache or
// fetch the table once; counting afterwards never touches the network.
func NewBPECounter(encoding string) (*BPECounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &BPECounter{encoding: encoding, enc: enc}, nil
}

func (b *BPECounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.enc.Encode(text, nil, nil))
}

func (*BPECounter) Exact() bool { return true }

func (b *BPECounter) Name() string { return b.encoding }

// NewCounter picks the counter for mode. An empty mode means DefaultEncoding;
// ModeApprox forces the heuristic. If the encoding cannot be loaded the
// heuristic is returned and a single warning is logged; this is not an error.
func NewCounter(mode string, charsPerToken int, logger *slog.Logger) TokenCounter {
	fallback := HeuristicCounter{CharsPerToken: charsPerToken}
	mode = strings.TrimSpace(mode)
	if strings.EqualFold(mode, ModeApprox) {
		return fallback
	}
	if mode == "" {
		mode = DefaultEncoding
	}
	c, err := NewBPECounter(mode)
	if err != nil {
		if logger != nil {
			logger.Warn("exact tokenizer unavailable; using approximate token counts",
				"encoding", mode,
				"fallback", fallback.Name(),
				"error", err,
			)
		}
		return fallback
	}
	return c
}
