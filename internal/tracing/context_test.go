package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
}

func TestGetTraceIDMissing(t *testing.T) {
	assert.Equal(t, "", GetTraceID(context.Background()))
}

func TestUserAndChatIDs(t *testing.T) {
	ctx := WithUserID(context.Background(), 42)
	ctx = WithChatID(ctx, 99)

	assert.Equal(t, int64(42), GetUserID(ctx))
	assert.Equal(t, int64(99), GetChatID(ctx))
}

func TestIDsMissing(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, int64(0), GetUserID(ctx))
	assert.Equal(t, int64(0), GetChatID(ctx))
}

func TestFromContext(t *testing.T) {
	ctx := NewContext(context.Background(), &TraceContext{
		TraceID: "trace-123",
		UserID:  42,
		ChatID:  99,
	})

	tc := FromContext(ctx)
	assert.Equal(t, "trace-123", tc.TraceID)
	assert.Equal(t, int64(42), tc.UserID)
	assert.Equal(t, int64(99), tc.ChatID)
}

func TestNewUpdateContext(t *testing.T) {
	ctx := NewUpdateContext(context.Background(), 42, 99)

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.Equal(t, int64(42), GetUserID(ctx))
	assert.Equal(t, int64(99), GetChatID(ctx))
}

func TestNewUpdateContextUniqueTraceIDs(t *testing.T) {
	ctx1 := NewUpdateContext(context.Background(), 42, 99)
	ctx2 := NewUpdateContext(context.Background(), 42, 99)

	assert.NotEqual(t, GetTraceID(ctx1), GetTraceID(ctx2))
}
