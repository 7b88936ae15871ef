package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Update when no record exists for the user.
// It signals a caller bug: mutations require a prior GetOrCreate.
var ErrNotFound = errors.New("session record not found")

// CorruptStateError reports a backing file that could not be read or parsed.
// The store recovers by quarantining the file and starting empty; the error
// is retained for inspection via LoadReport, not returned from Load.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state file %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// PersistError reports a failed flush of the backing file. The in-memory
// mapping stays authoritative after a PersistError; callers keep operating
// on it and the next successful flush persists everything.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist state file %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
