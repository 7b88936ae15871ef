package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// UserIDKey is the context key for the Telegram user id
	UserIDKey ContextKey = "user_id"
	// ChatIDKey is the context key for the Telegram chat id
	ChatIDKey ContextKey = "chat_id"
)

// TraceContext holds tracing information for one update
type TraceContext struct {
	TraceID string
	UserID  int64
	ChatID  int64
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithUserID adds the user id to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithChatID adds the chat id to the context
func WithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, ChatIDKey, chatID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetUserID retrieves the user id from the context
func GetUserID(ctx context.Context) int64 {
	if userID, ok := ctx.Value(UserIDKey).(int64); ok {
		return userID
	}
	return 0
}

// GetChatID retrieves the chat id from the context
func GetChatID(ctx context.Context) int64 {
	if chatID, ok := ctx.Value(ChatIDKey).(int64); ok {
		return chatID
	}
	return 0
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		UserID:  GetUserID(ctx),
		ChatID:  GetChatID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.UserID != 0 {
		ctx = WithUserID(ctx, tc.UserID)
	}
	if tc.ChatID != 0 {
		ctx = WithChatID(ctx, tc.ChatID)
	}
	return ctx
}

// NewUpdateContext creates the per-update context: fresh trace id plus the
// user and chat the update came from.
func NewUpdateContext(ctx context.Context, userID, chatID int64) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithUserID(ctx, userID)
	ctx = WithChatID(ctx, chatID)
	return ctx
}
