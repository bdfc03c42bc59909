// Package telemetry writes structured session events as JSON lines.
//
// Events never carry message text; only sizes, counts and ids.
package telemetry

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder appends events to a JSONL file. A nil *Recorder, or one built with
// an empty path, drops every event.
type Recorder struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder returns a recorder writing to path. Failures to write are logged
// as warnings and never reach the caller.
func NewRecorder(path string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{path: path, logger: logger, now: time.Now}
}

// Enabled reports whether Emit writes anything.
func (r *Recorder) Enabled() bool { return r != nil && r.path != "" }

// Emit writes a single JSON line for the named event. It augments a copy of
// fields with the RFC3339Nano time and the event name.
func (r *Recorder) Emit(name string, fields map[string]any) {
	if !r.Enabled() {
		return
	}

	m := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		m[k] = v
	}
	m["time"] = r.now().UTC().Format(time.RFC3339Nano)
	m["event"] = name

	b, err := json.Marshal(m)
	if err != nil {
		r.logger.Warn("telemetry: marshal", "event", name, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.logger.Warn("telemetry: mkdir", "dir", dir, "error", err)
			return
		}
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		r.logger.Warn("telemetry: open", "path", r.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		r.logger.Warn("telemetry: write", "path", r.path, "error", err)
	}
}
