package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petasbytes/go-chat/internal/provider"
	"github.com/petasbytes/go-chat/internal/runner"
	"github.com/petasbytes/go-chat/internal/telemetry"
	"github.com/petasbytes/go-chat/memory"
)

// sliceStream replays fragments, then reports err.
type sliceStream struct {
	frags  []string
	err    error
	i      int
	closed int
}

func (s *sliceStream) Next() bool {
	if s.i >= len(s.frags) {
		return false
	}
	s.i++
	return true
}

func (s *sliceStream) Current() string { return s.frags[s.i-1] }
func (s *sliceStream) Err() error {
	if s.i >= len(s.frags) {
		return s.err
	}
	return nil
}
func (s *sliceStream) Close() error { s.closed++; return nil }

type fakeBackend struct {
	stream *sliceStream
	got    []memory.Message
}

func (f *fakeBackend) StreamCompletion(_ context.Context, msgs []memory.Message) provider.Stream {
	f.got = msgs
	return f.stream
}

func TestAccumulate_ConcatenatesInOrder(t *testing.T) {
	s := &sliceStream{frags: []string{"Hel", "lo", ", world"}}
	var seen []string
	text, n, err := runner.Accumulate(context.Background(), s, func(f string) { seen = append(seen, f) })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if text != "Hello, world" || n != 3 {
		t.Fatalf("got=%q n=%d want=%q n=3", text, n, "Hello, world")
	}
	if strings.Join(seen, "|") != "Hel|lo|, world" {
		t.Fatalf("fragments rendered out of order: %q", seen)
	}
	if s.closed != 1 {
		t.Fatalf("closed=%d want=1", s.closed)
	}
}

func TestAccumulate_PartialOnError(t *testing.T) {
	boom := &provider.BackendError{Kind: provider.KindConnectionFailure, Err: errors.New("reset")}
	s := &sliceStream{frags: []string{"Hel", "lo"}, err: boom}
	text, _, err := runner.Accumulate(context.Background(), s, nil)
	if text != "Hello" {
		t.Fatalf("got=%q want=Hello", text)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if s.closed != 1 {
		t.Fatal("stream not closed on error")
	}
}

func TestAccumulate_EmptyStream(t *testing.T) {
	text, n, err := runner.Accumulate(context.Background(), &sliceStream{}, nil)
	if text != "" || n != 0 || err != nil {
		t.Fatalf("got=%q n=%d err=%v", text, n, err)
	}
}

func TestAccumulate_CanceledContextReportsInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := runner.Accumulate(ctx, &sliceStream{frags: []string{"x"}}, nil)
	var be *provider.BackendError
	if !errors.As(err, &be) || be.Kind != provider.KindCanceled {
		t.Fatalf("expected interrupted, got %v", err)
	}
}

func TestRunTurn_SendsViewAndEmitsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	rec := telemetry.NewRecorder(path, nil)
	fb := &fakeBackend{stream: &sliceStream{frags: []string{"a", "b"}}}
	r := runner.New(fb, "local-qwen", rec, nil)

	view := memory.View{
		Messages: []memory.Message{
			{Role: memory.RoleSystem, Content: "sys"},
			{Role: memory.RoleUser, Content: "hi"},
		},
		Dropped: 2,
		Limit:   100,
	}
	ctx := telemetry.WithTurnID(context.Background(), "turn-1")
	res, err := r.RunTurn(ctx, view, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Text != "ab" || res.Fragments != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(fb.got) != 2 || fb.got[1].Content != "hi" {
		t.Fatalf("backend got %+v", fb.got)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}
	var prepared, completed map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &prepared); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &completed); err != nil {
		t.Fatal(err)
	}
	if prepared["event"] != "window_prepared" || prepared["dropped_messages"] != float64(2) || prepared["turn_id"] != "turn-1" {
		t.Fatalf("unexpected window_prepared: %#v", prepared)
	}
	if completed["event"] != "turn_completed" || completed["fragments"] != float64(2) || completed["error"] != nil {
		t.Fatalf("unexpected turn_completed: %#v", completed)
	}
}

func TestRunTurn_ErrorIsRecorded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	fb := &fakeBackend{stream: &sliceStream{
		frags: []string{"par"},
		err:   &provider.BackendError{Kind: provider.KindTimeout, Err: context.DeadlineExceeded},
	}}
	r := runner.New(fb, "m", telemetry.NewRecorder(path, nil), nil)

	res, err := r.RunTurn(context.Background(), memory.View{Messages: []memory.Message{{Role: memory.RoleSystem}}}, nil)
	if err == nil || res.Text != "par" {
		t.Fatalf("got text=%q err=%v", res.Text, err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), `"error":"timeout"`) {
		t.Fatalf("timeout not recorded:\n%s", b)
	}
	if !strings.Contains(string(b), `"turn_id":"turn-`) {
		t.Fatalf("generated turn id missing:\n%s", b)
	}
}
