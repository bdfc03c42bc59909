// Package storage persists finished conversation transcripts.
//
// A Sink turns the session's full transcript into one new artifact per save.
// Nothing is ever updated in place.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/memory"
)

// Sink persists a transcript and returns where it went. Transcripts holding
// only the preamble (or nothing) are not worth keeping: Save returns "" and
// a nil error without writing.
type Sink interface {
	Save(ctx context.Context, transcript []memory.Message, modelID, roleID string) (string, error)
}

// Store is a Sink whose transcripts can be listed and read back. Load takes
// a location as returned by Save or reported in Summary.Location.
type Store interface {
	Sink
	List(ctx context.Context, limit int) ([]Summary, error)
	Load(ctx context.Context, location string) (memory.TranscriptRecord, error)
}

var (
	_ Store = (*JSONDir)(nil)
	_ Store = (*SQLite)(nil)
)

// Error is a save- or load-scoped failure. It never blocks exit.
type Error struct {
	Op   string // save, load, list, open
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Summary describes one stored transcript without its messages.
type Summary struct {
	ID        string
	Model     string
	Role      string
	Timestamp time.Time
	Messages  int
	Location  string
}

// New opens the store selected by cfg.Backend.
func New(cfg config.Storage, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case config.StorageSQLite:
		db, err := OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.StorageJSON, "":
		return NewJSONDir(cfg.HistoryDir, logger), nil
	}
	return nil, &Error{Op: "open", Err: fmt.Errorf("unsupported backend %q", cfg.Backend)}
}

// worthSaving reports whether the transcript holds more than the preamble.
func worthSaving(transcript []memory.Message) bool {
	return len(transcript) > 1
}

func newRecord(transcript []memory.Message, modelID, roleID string, now time.Time) memory.TranscriptRecord {
	conv := make([]memory.Message, len(transcript))
	copy(conv, transcript)
	return memory.TranscriptRecord{
		ID:           uuid.NewString(),
		Model:        modelID,
		Role:         roleID,
		Timestamp:    now,
		Conversation: conv,
	}
}
