package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/petasbytes/go-chat/memory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by SQLite.Load for an unknown id.
var ErrNotFound = errors.New("transcript not found")

// SQLite stores each saved transcript as one row.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending schema migrations.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &Error{Op: "open", Path: path, Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	// One writer; let database/sql serialise callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &Error{Op: "open", Path: path, Err: fmt.Errorf("%s: %w", pragma, err)}
		}
	}

	s := &SQLite{db: db, path: path, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL,
			description TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		version, desc, ok := parseMigrationName(name)
		if !ok || version <= current {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			version, time.Now().UTC().Format(time.RFC3339), desc,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
		s.logger.Debug("applied migration", "version", fmt.Sprintf("%04d", version), "description", desc)
	}
	return nil
}

// parseMigrationName splits "0001_transcripts.sql" into (1, "transcripts").
func parseMigrationName(name string) (int, string, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, "", false
	}
	num, desc, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !ok {
		return 0, "", false
	}
	var version int
	if _, err := fmt.Sscanf(num, "%d", &version); err != nil {
		return 0, "", false
	}
	return version, desc, true
}

// Save inserts a new row and returns "<db path>#<id>".
func (s *SQLite) Save(ctx context.Context, transcript []memory.Message, modelID, roleID string) (string, error) {
	if !worthSaving(transcript) {
		return "", nil
	}
	rec := newRecord(transcript, modelID, roleID, s.now())
	conv, err := json.Marshal(rec.Conversation)
	if err != nil {
		return "", &Error{Op: "save", Path: s.path, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, model, role, saved_at, message_count, conversation)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, rec.Role, rec.Timestamp.UTC().Format(timeLayout), len(rec.Conversation), string(conv),
	); err != nil {
		return "", &Error{Op: "save", Path: s.path, Err: err}
	}
	loc := s.path + "#" + rec.ID
	s.logger.Info("transcript saved", "location", loc, "messages", len(rec.Conversation), "model", modelID, "role", roleID)
	return loc, nil
}

// Load returns the transcript for location, either "<db path>#<id>" as
// returned by Save or a bare id.
func (s *SQLite) Load(ctx context.Context, location string) (memory.TranscriptRecord, error) {
	id := location[strings.LastIndex(location, "#")+1:]
	var (
		rec     memory.TranscriptRecord
		savedAt string
		conv    string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, model, role, saved_at, conversation FROM transcripts WHERE id = ?", id,
	).Scan(&rec.ID, &rec.Model, &rec.Role, &savedAt, &conv)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: s.path, Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
	}
	if err != nil {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: s.path, Err: err}
	}
	if rec.Timestamp, err = time.Parse(timeLayout, savedAt); err != nil {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: s.path, Err: err}
	}
	if err := json.Unmarshal([]byte(conv), &rec.Conversation); err != nil {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: s.path, Err: err}
	}
	if err := rec.Validate(); err != nil {
		return memory.TranscriptRecord{}, &Error{Op: "load", Path: s.path, Err: err}
	}
	return rec, nil
}

// List returns up to limit summaries, newest first. limit <= 0 means all.
func (s *SQLite) List(ctx context.Context, limit int) ([]Summary, error) {
	q := "SELECT id, model, role, saved_at, message_count FROM transcripts ORDER BY saved_at DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &Error{Op: "list", Path: s.path, Err: err}
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			savedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Model, &sum.Role, &savedAt, &sum.Messages); err != nil {
			return nil, &Error{Op: "list", Path: s.path, Err: err}
		}
		if sum.Timestamp, err = time.Parse(timeLayout, savedAt); err != nil {
			s.logger.Warn("skip row with bad timestamp", "id", sum.ID, "error", err)
			continue
		}
		sum.Location = s.path + "#" + sum.ID
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "list", Path: s.path, Err: err}
	}
	return out, nil
}
