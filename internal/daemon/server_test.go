package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/salomai/salombot/internal/config"
	"github.com/salomai/salombot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestServer(t *testing.T) *Server {
	log, err := logger.New(logger.Config{Level: "info", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	cfg := &config.MetricsConfig{Enabled: true, Host: "127.0.0.1", Port: 0}
	status := func() Status {
		return Status{Running: true, Uptime: 3 * time.Second, Sessions: 5}
	}
	return NewServer(cfg, log, status)
}

func TestServerHandleHealth(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, true, response["running"])
	assert.Equal(t, float64(3), response["uptime"])
	assert.Equal(t, float64(5), response["sessions"])
}

func TestServerHandleHealthInvalidMethod(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServerRejectsDuringShutdown(t *testing.T) {
	server := createTestServer(t)

	server.shutdownMu.Lock()
	server.isShuttingDown = true
	server.shutdownMu.Unlock()

	handler := server.track(http.HandlerFunc(server.handleHealth))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerStopWithoutStart(t *testing.T) {
	server := createTestServer(t)

	assert.NoError(t, server.Stop())
}
