// Package backend is the stateless HTTP client for the Salom backend.
//
// Invariants:
// - Every call takes a context and is bounded by the configured timeout.
// - Failures map to typed errors (TimeoutError, UnreachableError,
//   BackendError); transport failures are never retried automatically.
// - A 401 on an authenticated call triggers one token refresh and one
//   replay; this is an auth concern, not a transport retry.
// - Token pairs live only in the in-memory credential cache, keyed by
//   user id. They are never written to disk.
//
// Usage:
//
//	client := backend.New(backend.Options{BaseURL: "https://api.salom.ai"})
//	creds, err := client.AuthTelegram(ctx, backend.TelegramUser{ID: 42})
//	reply, err := client.Send(ctx, record, "hello")
package backend
