package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
)

// ErrEmptyMessage rejects chat calls with nothing to send. Validated
// locally, the backend is never contacted.
var ErrEmptyMessage = errors.New("message must not be empty")

// maxErrorBodyLog caps response bodies embedded in error strings. The full
// body stays on BackendError.Body.
const maxErrorBodyLog = 512

// TimeoutError reports a call that exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend request timed out: %s", e.URL)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// UnreachableError reports a call that never produced an HTTP response:
// connection refused, DNS failure, TLS failure.
type UnreachableError struct {
	URL string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("backend unreachable: %s: %v", e.URL, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// BackendError reports a non-2xx HTTP response. Body holds the full
// response body for diagnostics.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyLog {
		body = body[:maxErrorBodyLog] + "..."
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, body)
}

// Detail extracts the human-readable message from a structured error body
// of the form {"detail": "..."} or {"detail": {"code": ..., "message": ...}}.
// Falls back to the raw body.
func (e *BackendError) Detail() string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err != nil || len(payload.Detail) == 0 {
		return e.Body
	}

	var text string
	if err := json.Unmarshal(payload.Detail, &text); err == nil {
		return text
	}

	var structured struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Detail, &structured); err == nil && structured.Message != "" {
		return structured.Message
	}

	return e.Body
}

// LimitExceeded reports whether the backend rejected the call with a
// LIMIT_EXCEEDED detail code.
func (e *BackendError) LimitExceeded() bool {
	var payload struct {
		Detail struct {
			Code string `json:"code"`
		} `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err != nil {
		return false
	}
	return payload.Detail.Code == "LIMIT_EXCEEDED"
}

// StreamError reports an error event delivered inside a chat stream after
// the HTTP layer already answered 200.
type StreamError struct {
	Message       string
	LimitExceeded bool
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("backend stream error: %s", e.Message)
}

// classify maps a transport error onto the failure taxonomy. Context
// cancellation passes through untouched so callers can match it.
func classify(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &TimeoutError{URL: url, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	return &UnreachableError{URL: url, Err: err}
}

// outcomeOf labels an error for the request metrics.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}

	var (
		terr *TimeoutError
		uerr *UnreachableError
		berr *BackendError
		serr *StreamError
	)
	switch {
	case errors.As(err, &terr):
		return "timeout"
	case errors.As(err, &uerr):
		return "unreachable"
	case errors.As(err, &berr):
		return "backend_error"
	case errors.As(err, &serr):
		return "stream_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
