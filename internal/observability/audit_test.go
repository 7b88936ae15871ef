package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salomai/salombot/internal/tracing"
)

func TestAuditLogger_RecordToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	ctx := tracing.NewUpdateContext(context.Background(), 42, 99)
	RecordAuthAudit(ctx, 42, "success", map[string]interface{}{"first_name": "Ali"})
	RecordSweepAudit(ctx, 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `"type":"auth"`)
	assert.Contains(t, content, `"actor":"42"`)
	assert.Contains(t, content, `"status":"success"`)
	assert.Contains(t, content, `"action":"session_sweep"`)
	assert.Contains(t, content, `"deleted":3`)
}

func TestAuditLogger_ActorAndTraceFromContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, InitAuditLogger(path))
	defer GetAuditLogger().Close()

	ctx := tracing.NewUpdateContext(context.Background(), 7, 7)
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:   "settings",
		Action: "language_change",
		Status: "success",
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `"actor":"7"`)
	assert.Contains(t, content, tracing.GetTraceID(ctx))
}
