package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/petasbytes/go-chat/memory"
)

// JSONDir writes one pretty-printed JSON file per save under
//
//	<dir>/<YYYY-MM-DD>/<HH-MM-SS>-<id8>.json
//
// in local time.
type JSONDir struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewJSONDir(dir string, logger *slog.Logger) *JSONDir {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &JSONDir{dir: dir, logger: logger, now: time.Now}
}

func (s *JSONDir) Save(ctx context.Context, transcript []memory.Message, modelID, roleID string) (string, error) {
	if !worthSaving(transcript) {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: "save", Path: s.dir, Err: err}
	}

	now := s.now()
	rec := newRecord(transcript, modelID, roleID, now)
	dayDir := filepath.Join(s.dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return "", &Error{Op: "save", Path: dayDir, Err: err}
	}
	path := filepath.Join(dayDir, now.Format("15-04-05")+"-"+rec.ID[:8]+".json")
	if err := memory.SaveTranscript(path, rec); err != nil {
		return "", &Error{Op: "save", Path: path, Err: err}
	}
	s.logger.Info("transcript saved", "path", path, "messages", len(rec.Conversation), "model", modelID, "role", roleID)
	return path, nil
}

// Load reads the transcript file at path.
func (s *JSONDir) Load(ctx context.Context, path string) (memory.TranscriptRecord, error) {
	if err := ctx.Err(); err != nil {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: path, Err: err}
	}
	rec, err := memory.LoadTranscript(path)
	if err != nil {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: path, Err: err}
	}
	return rec, nil
}

// List returns up to limit summaries of readable transcripts, newest first.
// limit <= 0 means all. Unreadable files are skipped with a warning.
func (s *JSONDir) List(ctx context.Context, limit int) ([]Summary, error) {
	var out []Summary
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rec, err := memory.LoadTranscript(path)
		if err != nil {
			s.logger.Warn("skip unreadable transcript", "path", path, "error", err)
			return nil
		}
		out = append(out, Summary{
			ID:        rec.ID,
			Model:     rec.Model,
			Role:      rec.Role,
			Timestamp: rec.Timestamp,
			Messages:  len(rec.Conversation),
			Location:  path,
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "list", Path: s.dir, Err: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
