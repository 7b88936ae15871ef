package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/salomai/salombot/internal/config"
	"github.com/salomai/salombot/internal/logger"
	"github.com/salomai/salombot/internal/metrics"
)

// Server exposes the Prometheus registry and a health endpoint on a local
// listener while the daemon runs.
type Server struct {
	config    *config.MetricsConfig
	logger    zerolog.Logger
	server    *http.Server
	status    func() Status
	startTime time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates the metrics server. status supplies the daemon state
// reported by the health endpoint.
func NewServer(cfg *config.MetricsConfig, log *logger.Logger, status func() Status) *Server {
	return &Server{
		config: cfg,
		logger: log.GetZerolog().With().Str("component", "metrics").Logger(),
		status: status,
	}
}

// Start begins serving /metrics and /healthz.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.track(metrics.Default().Handler()))
	mux.Handle("/healthz", s.track(http.HandlerFunc(s.handleHealth)))

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: mux,
	}
	s.startTime = time.Now()

	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")

	// Serve in a goroutine so startup doesn't block
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server, letting in-flight scrapes finish.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	if s.server == nil {
		return nil
	}

	// Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.logger.Info().Msg("Metrics server stopped")
	return nil
}

// track counts in-flight requests and rejects new ones during shutdown.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.inFlightReqs.Add(1)
		s.shutdownMu.RUnlock()
		defer s.inFlightReqs.Done()

		next.ServeHTTP(w, r)
	})
}

// handleHealth reports daemon liveness and a few gauges.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := s.status()
	response := map[string]interface{}{
		"status":    "ok",
		"running":   st.Running,
		"uptime":    st.Uptime.Seconds(),
		"sessions":  st.Sessions,
		"timestamp": time.Now().UnixMilli(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
