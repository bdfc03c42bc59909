package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// TranscriptRecord is the persisted form of one saved conversation.
// Conversation[0] is always the system preamble in force at save time.
type TranscriptRecord struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Role         string    `json:"role,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Conversation []Message `json:"conversation"`
}

// Validate checks the shape invariants of a record.
func (r TranscriptRecord) Validate() error {
	if r.Model == "" {
		return errors.New("transcript: missing model")
	}
	if len(r.Conversation) == 0 || r.Conversation[0].Role != RoleSystem {
		return errors.New("transcript: conversation must start with the system preamble")
	}
	for i, m := range r.Conversation[1:] {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("transcript: message %d has role %q", i+1, m.Role)
		}
	}
	return nil
}

// LoadTranscript reads one record written by SaveTranscript.
func LoadTranscript(path string) (TranscriptRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return TranscriptRecord{}, err
	}
	var rec TranscriptRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return TranscriptRecord{}, err
	}
	if err := rec.Validate(); err != nil {
		return TranscriptRecord{}, err
	}
	return rec, nil
}

// SaveTranscript writes rec to path as indented UTF-8 JSON. It refuses to
// overwrite an existing file: every save is a new artifact.
func SaveTranscript(path string, rec TranscriptRecord) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeExclusive(path, func(w io.Writer) error {
		_, err := w.Write(append(b, '\n'))
		return err
	})
}

// writeExclusive creates path, which must not exist, and fills it with
// write. On any failure the partly written file is removed.
func writeExclusive(path string, write func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}
