package runner

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/petasbytes/go-chat/internal/provider"
	"github.com/petasbytes/go-chat/internal/telemetry"
	"github.com/petasbytes/go-chat/memory"
)

type Runner struct {
	backend  provider.Backend
	modelID  string
	recorder *telemetry.Recorder
	logger   *slog.Logger
}

// New returns a runner for one backend. recorder and logger may be nil.
func New(backend provider.Backend, modelID string, recorder *telemetry.Recorder, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{backend: backend, modelID: modelID, recorder: recorder, logger: logger}
}

// Result summarises one streamed reply.
type Result struct {
	Text      string
	Fragments int
	Elapsed   time.Duration
}

// RunTurn sends view.Messages and streams the reply through onFragment.
// The turn id is taken from ctx, or generated when absent.
func (r *Runner) RunTurn(ctx context.Context, view memory.View, onFragment func(string)) (Result, error) {
	turnID, ok := telemetry.TurnIDFromContext(ctx)
	if !ok {
		turnID = telemetry.NewTurnID()
		ctx = telemetry.WithTurnID(ctx, turnID)
	}

	r.recorder.Emit("window_prepared", withIDs(ctx, map[string]any{
		"model":                r.modelID,
		"limit":                view.Limit,
		"preamble_tokens":      view.PreambleTokens,
		"history_tokens":       view.Total,
		"included_messages":    len(view.Messages) - 1,
		"dropped_messages":     view.Dropped,
		"preamble_over_budget": view.PreambleOverBudget,
	}))
	if view.Truncated() {
		r.logger.Info("history truncated to fit context window",
			"turn_id", turnID, "dropped", view.Dropped, "limit", view.Limit)
	}
	if view.PreambleOverBudget {
		r.logger.Warn("role preamble alone exceeds the context limit; sending it without history",
			"turn_id", turnID, "preamble_tokens", view.PreambleTokens, "limit", view.Limit)
	}

	start := time.Now()
	text, n, err := Accumulate(ctx, r.backend.StreamCompletion(ctx, view.Messages), onFragment)
	res := Result{Text: text, Fragments: n, Elapsed: time.Since(start)}

	fields := withIDs(ctx, map[string]any{
		"model":        r.modelID,
		"fragments":    n,
		"output_runes": utf8.RuneCountInString(text),
		"duration_ms":  res.Elapsed.Milliseconds(),
		"error":        nil,
	})
	if err != nil {
		fields["error"] = provider.Classify(err).Kind.String()
	}
	r.recorder.Emit("turn_completed", fields)
	return res, err
}

// Accumulate drains s, calling onFragment for every fragment in arrival
// order, and returns the concatenation plus the fragment count. The stream is
// closed before returning. A stream that ends quietly after ctx was cancelled
// is reported as interrupted.
func Accumulate(ctx context.Context, s provider.Stream, onFragment func(string)) (string, int, error) {
	defer s.Close()

	var b strings.Builder
	n := 0
	for s.Next() {
		frag := s.Current()
		b.WriteString(frag)
		n++
		if onFragment != nil {
			onFragment(frag)
		}
	}
	err := s.Err()
	if err == nil && ctx.Err() != nil {
		err = provider.Classify(ctx.Err())
	}
	return b.String(), n, err
}

func withIDs(ctx context.Context, fields map[string]any) map[string]any {
	for k, v := range telemetry.IDFields(ctx) {
		fields[k] = v
	}
	return fields
}
