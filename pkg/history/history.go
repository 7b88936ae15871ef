// Package history keeps an append-only SQLite log of completed interactions.
// The daemon records one row per turn (best effort, failures never block a
// reply) and `salombot stats` reads it back.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Interaction kinds.
const (
	KindChat     = "chat"
	KindVoice    = "voice"
	KindPhoto    = "photo"
	KindDocument = "document"
	KindImage    = "image"
	KindFeedback = "feedback"
)

// Entry statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusLimited = "limited"
)

// Entry is one logged interaction.
type Entry struct {
	ID              string    `db:"id" json:"id"`
	Timestamp       time.Time `db:"ts" json:"ts"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Kind            string    `db:"kind" json:"kind"`
	Model           string    `db:"model" json:"model,omitempty"`
	ConversationRef string    `db:"conversation_ref" json:"conversation_ref,omitempty"`
	Status          string    `db:"status" json:"status"`
	DurationMS      int64     `db:"duration_ms" json:"duration_ms"`
	CharsIn         int64     `db:"chars_in" json:"chars_in"`
	CharsOut        int64     `db:"chars_out" json:"chars_out"`
}

// KindCount is the per-kind slice of Stats.
type KindCount struct {
	Kind  string `db:"kind" json:"kind"`
	Count int64  `db:"n" json:"count"`
}

// Stats aggregates the log for the stats command.
type Stats struct {
	Entries  int64       `db:"entries" json:"entries"`
	Users    int64       `db:"users" json:"users"`
	Errors   int64       `db:"errors" json:"errors"`
	CharsIn  int64       `db:"chars_in" json:"chars_in"`
	CharsOut int64       `db:"chars_out" json:"chars_out"`
	ByKind   []KindCount `db:"-" json:"by_kind,omitempty"`
}

const schema = `
	CREATE TABLE IF NOT EXISTS interactions (
		id TEXT PRIMARY KEY,
		ts DATETIME NOT NULL,
		user_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		conversation_ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		chars_in INTEGER NOT NULL DEFAULT 0,
		chars_out INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_user_ts ON interactions(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_interactions_ts ON interactions(ts);
`

// Recorder owns the history database.
type Recorder struct {
	db   *sqlx.DB
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL keeps the recorder from blocking readers (the stats command may
	// run while the daemon is writing).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("Interaction history opened")
	return &Recorder{db: db, path: path}, nil
}

// Record appends one entry. Missing ID, timestamp, kind and status are
// filled with defaults; timestamps are normalized to UTC so range scans
// stay chronological.
func (r *Recorder) Record(e Entry) error {
	if e.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate entry id: %w", err)
		}
		e.ID = id
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Kind == "" {
		e.Kind = KindChat
	}
	if e.Status == "" {
		e.Status = StatusOK
	}

	_, err := r.db.Exec(`INSERT INTO interactions
		(id, ts, user_id, kind, model, conversation_ref, status, duration_ms, chars_in, chars_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.UserID, e.Kind, e.Model, e.ConversationRef,
		e.Status, e.DurationMS, e.CharsIn, e.CharsOut)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for one user, newest first.
func (r *Recorder) Recent(userID int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []Entry
	err := r.db.Select(&entries, `
		SELECT * FROM interactions
		WHERE user_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions for user %d: %w", userID, err)
	}
	return entries, nil
}

// Stats aggregates the whole log.
func (r *Recorder) Stats() (Stats, error) {
	return r.stats("", nil)
}

// UserStats aggregates one user's entries.
func (r *Recorder) UserStats(userID int64) (Stats, error) {
	return r.stats("WHERE user_id = ?", []interface{}{userID})
}

func (r *Recorder) stats(where string, args []interface{}) (Stats, error) {
	var s Stats
	err := r.db.Get(&s, fmt.Sprintf(`
		SELECT
			COUNT(*) AS entries,
			COUNT(DISTINCT user_id) AS users,
			COALESCE(SUM(CASE WHEN status != 'ok' THEN 1 ELSE 0 END), 0) AS errors,
			COALESCE(SUM(chars_in), 0) AS chars_in,
			COALESCE(SUM(chars_out), 0) AS chars_out
		FROM interactions %s`, where), args...)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read history stats: %w", err)
	}

	err = r.db.Select(&s.ByKind, fmt.Sprintf(`
		SELECT kind, COUNT(*) AS n
		FROM interactions %s
		GROUP BY kind
		ORDER BY n DESC, kind`, where), args...)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read kind counts: %w", err)
	}
	return s, nil
}

// Prune deletes entries older than before and reports how many went.
func (r *Recorder) Prune(before time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM interactions WHERE ts < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("before", before).Msg("History pruned")
	}
	return n, nil
}

// Path returns the database file path.
func (r *Recorder) Path() string {
	return r.path
}

// Close closes the database.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
