package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salomai/salombot/internal/metrics"
)

const stateFileVersion = 1

// Record is the durable per-user state the bridge keeps across restarts.
type Record struct {
	UserID          int64     `json:"user_id"`
	Model           string    `json:"model"`
	ConversationRef string    `json:"conversation_ref,omitempty"`
	Language        string    `json:"language"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Fields is a partial update; nil pointers leave the field untouched.
// An empty-string ConversationRef clears the active conversation.
type Fields struct {
	Model           *string
	ConversationRef *string
	Language        *string
}

// String returns a pointer to s, for building Fields literals.
func String(s string) *string {
	return &s
}

// Options configures a Store.
type Options struct {
	// Path is the backing file location.
	Path string

	// DefaultModel is assigned to newly created records.
	DefaultModel string

	// DefaultLanguage is assigned to newly created records.
	DefaultLanguage string
}

// stateFile is the on-disk shape of the store.
type stateFile struct {
	Version int              `json:"version"`
	SavedAt time.Time        `json:"saved_at"`
	Users   map[int64]Record `json:"users"`
}

// Store maps user ids to Records, guarded by a single mutex, persisted
// write-through to a single JSON file.
type Store struct {
	path            string
	defaultModel    string
	defaultLanguage string

	mu      sync.Mutex
	records map[int64]Record
	loadErr *CorruptStateError
}

// New creates a Store. Call Load before first use.
func New(opts Options) *Store {
	return &Store{
		path:            opts.Path,
		defaultModel:    opts.DefaultModel,
		defaultLanguage: opts.DefaultLanguage,
		records:         make(map[int64]Record),
	}
}

// Load reads the whole mapping from the backing file. A missing file yields
// an empty mapping. A corrupt or unreadable file is quarantined aside and
// the store starts empty; the recovery is logged and recorded for
// LoadReport, and Load still returns nil so startup proceeds.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadErr = nil
	s.records = make(map[int64]Record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", s.path).Msg("No existing state file, starting empty")
			metrics.SetSessionRecords(0)
			return nil
		}
		s.recoverCorrupt(err)
		return nil
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		s.recoverCorrupt(err)
		return nil
	}

	if state.Users != nil {
		s.records = state.Users
	}
	// Hand-edited files may omit the redundant user_id inside each record.
	for id, rec := range s.records {
		if rec.UserID == 0 {
			rec.UserID = id
			s.records[id] = rec
		}
	}

	metrics.SetSessionRecords(len(s.records))
	log.Info().
		Str("path", s.path).
		Int("records", len(s.records)).
		Msg("Session state loaded")

	return nil
}

// recoverCorrupt applies the corrupt-file policy: log, quarantine, start
// empty. Caller holds the mutex.
func (s *Store) recoverCorrupt(cause error) {
	cerr := &CorruptStateError{Path: s.path, Err: cause}
	s.loadErr = cerr

	quarantine := fmt.Sprintf("%s.corrupt.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, quarantine); err != nil {
		log.Error().
			Err(cerr).
			Str("path", s.path).
			Msg("State file corrupt and could not be quarantined, starting empty")
	} else {
		log.Error().
			Err(cerr).
			Str("path", s.path).
			Str("quarantined", quarantine).
			Msg("State file corrupt, quarantined and starting empty")
	}

	s.records = make(map[int64]Record)
	metrics.SetSessionRecords(0)
}

// LoadReport returns the corruption the last Load recovered from, if any.
func (s *Store) LoadReport() *CorruptStateError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// GetOrCreate returns the record for userID, creating one with the
// configured defaults on first contact. Creation flushes write-through; on
// flush failure the record is still created in memory and returned together
// with the *PersistError.
func (s *Store) GetOrCreate(userID int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[userID]; ok {
		return rec, nil
	}

	rec := Record{
		UserID:    userID,
		Model:     s.defaultModel,
		Language:  s.defaultLanguage,
		UpdatedAt: time.Now().UTC(),
	}
	s.records[userID] = rec
	metrics.SetSessionRecords(len(s.records))

	log.Debug().
		Int64("user_id", userID).
		Str("model", rec.Model).
		Str("language", rec.Language).
		Msg("Session record created")

	return rec, s.flushLocked()
}

// Update applies the set fields to an existing record and refreshes
// UpdatedAt. ErrNotFound when the user has no record. The update flushes
// write-through; on flush failure the mutated record is still applied in
// memory and returned together with the *PersistError.
func (s *Store) Update(userID int64, fields Fields) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, fmt.Errorf("update user %d: %w", userID, ErrNotFound)
	}

	if fields.Model != nil {
		rec.Model = *fields.Model
	}
	if fields.ConversationRef != nil {
		rec.ConversationRef = *fields.ConversationRef
	}
	if fields.Language != nil {
		rec.Language = *fields.Language
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[userID] = rec

	return rec, s.flushLocked()
}

// Get returns a copy of the record for userID without creating one.
func (s *Store) Get(userID int64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	return rec, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns a copy of the whole mapping.
func (s *Store) Snapshot() map[int64]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec
	}
	return out
}

// Flush atomically persists the current mapping to the backing file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the mapping to a temp file in the target directory and
// renames it over the backing file. Caller holds the mutex.
func (s *Store) flushLocked() error {
	start := time.Now()

	state := stateFile{
		Version: stateFileVersion,
		SavedAt: time.Now().UTC(),
		Users:   s.records,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("marshal state: %w", err)}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("create state directory: %w", err)}
	}

	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("create temp file: %w", err)}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("write temp file: %w", err)}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("sync temp file: %w", err)}
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("close temp file: %w", err)}
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		metrics.RecordStateFlush(time.Since(start), false)
		return &PersistError{Path: s.path, Err: fmt.Errorf("replace state file: %w", err)}
	}

	metrics.RecordStateFlush(time.Since(start), true)
	return nil
}

// Sweep deletes records whose UpdatedAt is older than maxAge and flushes
// once when anything was removed. Returns the number of deleted records.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for id, rec := range s.records {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}

	if deleted == 0 {
		return 0, nil
	}

	metrics.SetSessionRecords(len(s.records))
	metrics.RecordSweepDeleted(deleted)
	log.Info().
		Int("deleted", deleted).
		Int("remaining", len(s.records)).
		Dur("max_age", maxAge).
		Msg("Stale session records swept")

	return deleted, s.flushLocked()
}

// Peek reads the state file at path without constructing a Store and
// reports the record count and when it was last saved. Read-only: unlike
// Load it never quarantines a corrupt file, so another process can call it
// while the daemon owns the store.
func Peek(path string) (int, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, time.Time{}, &CorruptStateError{Path: path, Err: err}
	}
	return len(state.Users), state.SavedAt, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Close flushes the mapping a final time. Called on graceful shutdown so
// the last mutation survives restart.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	log.Info().Str("path", s.path).Msg("Session store closed")
	return nil
}
