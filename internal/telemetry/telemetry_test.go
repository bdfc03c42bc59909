package telemetry_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petasbytes/go-chat/internal/telemetry"
	"github.com/petasbytes/go-chat/internal/windowing"
)

// readLastJSONL returns the last non-empty JSON object in path.
func readLastJSONL(t *testing.T, path string) (map[string]any, error) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var last string
	s := bufio.NewScanner(f)
	for s.Scan() {
		if txt := strings.TrimSpace(s.Text()); txt != "" {
			last = txt
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if last == "" {
		return nil, errors.New("no lines found")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func TestEmit_Disabled_NoFile(t *testing.T) {
	var nilRec *telemetry.Recorder
	nilRec.Emit("x", map[string]any{"a": 1})

	rec := telemetry.NewRecorder("", nil)
	if rec.Enabled() {
		t.Fatal("empty path should disable the recorder")
	}
	rec.Emit("x", nil)
}

func TestEmit_HappyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	rec := telemetry.NewRecorder(path, nil)

	rec.Emit("test_event", map[string]any{"foo": "bar", "num": 42})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read events file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if event["event"] != "test_event" || event["foo"] != "bar" || event["num"] != float64(42) {
		t.Fatalf("unexpected event: %#v", event)
	}
	timeStr, ok := event["time"].(string)
	if !ok {
		t.Fatal("expected time field as string")
	}
	if _, err := time.Parse(time.RFC3339Nano, timeStr); err != nil {
		t.Errorf("time field not valid RFC3339Nano: %v", err)
	}
}

func TestEmit_MultipleEmissionsAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	rec := telemetry.NewRecorder(path, nil)

	for _, name := range []string{"event1", "event2", "event3"} {
		rec.Emit(name, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if data[len(data)-1] != '\n' {
		t.Fatal("expected newline-terminated JSONL file")
	}
}

func TestEmit_MapIsolation(t *testing.T) {
	rec := telemetry.NewRecorder(filepath.Join(t.TempDir(), "events.jsonl"), nil)
	fields := map[string]any{"key": "value"}
	rec.Emit("test", fields)

	if len(fields) != 1 {
		t.Fatalf("expected fields to have 1 key, got %d", len(fields))
	}
}

func TestEmit_MarshalError_NoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	rec := telemetry.NewRecorder(path, nil)

	// NaN cannot be marshaled by encoding/json.
	rec.Emit("bad", map[string]any{"x": math.NaN()})

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no events file on marshal error, got err=%v", err)
	}
}

func TestEmit_ReadOnlyFile_DoesNotPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, nil, 0o444); err != nil {
		t.Fatal(err)
	}
	telemetry.NewRecorder(path, nil).Emit("x", map[string]any{"a": 1})

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() != 0 && fi.Size() != 0 {
		t.Fatalf("expected read-only file size 0, got %d", fi.Size())
	}
}

func TestEmitLocalFeatures_NoRawText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	rec := telemetry.NewRecorder(path, nil)
	ctx := telemetry.WithTurnID(context.Background(), "turn-xyz")
	user := "Foo Bar\nBaz"

	rec.EmitLocalFeatures(ctx, user, windowing.HeuristicCounter{CharsPerToken: 3})

	m, err := readLastJSONL(t, path)
	if err != nil {
		t.Fatalf("read last jsonl: %v", err)
	}
	if m["event"] != "local_features" || m["turn_id"] != "turn-xyz" || m["features_version"] != telemetry.FeaturesVersion {
		t.Fatalf("unexpected event: %#v", m)
	}
	u, ok := m["user"].(map[string]any)
	if !ok {
		t.Fatalf("user field missing or wrong type: %T", m["user"])
	}
	if u["runes"] != float64(11) || u["lines"] != float64(2) || u["tokens"] != float64(3) {
		t.Fatalf("unexpected features: %#v", u)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "Baz") {
		t.Fatal("raw input text found in events file")
	}
}
