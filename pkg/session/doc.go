// Package session persists per-user bridge state as a single JSON document.
//
// Invariants:
// - One Record per user id; the store is the sole owner of all records.
// - Every read and write of the in-memory mapping holds the store mutex.
// - Mutations flush write-through; the backing file is replaced atomically
//   (temp file + rename), never partially written.
// - A corrupt backing file is quarantined and the store starts empty;
//   startup never fails because of state-file damage.
//
// Usage:
//
//	store := session.New(session.Options{Path: "/var/lib/salombot/state.json"})
//	_ = store.Load()
//	rec, _ := store.GetOrCreate(42)
//	_, _ = store.Update(42, session.Fields{ConversationRef: session.String("conv-abc")})
//	_ = rec
package session
