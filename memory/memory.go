package memory

import (
	"errors"
	"fmt"

	"github.com/petasbytes/go-chat/internal/windowing"
)

var (
	// ErrReservedRole is returned by Add for the system role or an unknown role.
	ErrReservedRole = errors.New("memory: role is reserved or unknown")
	// ErrInvalidLimit is returned by New when the token limit is not positive.
	ErrInvalidLimit = errors.New("memory: token limit must be positive")
)

// Memory holds one system preamble and an append-only history.
// The preamble never changes for the lifetime of a Memory; switching roles
// means building a new one.
type Memory struct {
	preamble Message
	history  []Message
	limit    int
	counter  windowing.TokenCounter
}

// View is the budgeted slice of the conversation sent for one turn.
type View struct {
	// Messages is [preamble] followed by the most recent history that fits.
	Messages []Message
	// Dropped counts history messages omitted from the oldest end.
	Dropped int
	// Total is the estimated token cost of the included history.
	Total          int
	PreambleTokens int
	Limit          int
	// PreambleOverBudget is set when the preamble alone exceeds Limit. The
	// preamble is still sent; nothing else is.
	PreambleOverBudget bool
}

// Truncated reports whether at least one history message was dropped.
func (v View) Truncated() bool { return v.Dropped > 0 }

// New builds a Memory with the given preamble text.
func New(preamble string, limit int, counter windowing.TokenCounter) (*Memory, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	if counter == nil {
		counter = windowing.HeuristicCounter{}
	}
	return &Memory{
		preamble: Message{Role: RoleSystem, Content: preamble},
		limit:    limit,
		counter:  counter,
	}, nil
}

// Add appends a user or assistant message.
func (m *Memory) Add(role Role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrReservedRole, role)
	}
	m.history = append(m.history, Message{Role: role, Content: content})
	return nil
}

// WindowedView returns the preamble plus the longest chronological suffix of
// history for which history cost + preamble cost stays within the limit.
// Message content is never cut; whole messages are dropped oldest first.
func (m *Memory) WindowedView() View {
	preambleCost := m.counter.Count(m.preamble.Content)
	window, stats := windowing.PrepareSendWindow(m.history, m.limit-preambleCost, func(msg Message) int {
		return m.counter.Count(msg.Content)
	})

	msgs := make([]Message, 0, len(window)+1)
	msgs = append(msgs, m.preamble)
	msgs = append(msgs, window...)
	return View{
		Messages:           msgs,
		Dropped:            stats.Skipped,
		Total:              stats.Total,
		PreambleTokens:     preambleCost,
		Limit:              m.limit,
		PreambleOverBudget: preambleCost > m.limit,
	}
}

// Clear discards the history and keeps the preamble.
func (m *Memory) Clear() {
	m.history = nil
}

// Transcript returns the preamble and the full, un-windowed history.
func (m *Memory) Transcript() []Message {
	out := make([]Message, 0, len(m.history)+1)
	out = append(out, m.preamble)
	return append(out, m.history...)
}

func (m *Memory) Preamble() Message { return m.preamble }

// Len returns the number of history messages, excluding the preamble.
func (m *Memory) Len() int { return len(m.history) }
