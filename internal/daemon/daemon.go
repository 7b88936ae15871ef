package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/salomai/salombot/internal/config"
	"github.com/salomai/salombot/internal/logger"
	"github.com/salomai/salombot/internal/metrics"
	"github.com/salomai/salombot/internal/observability"
	"github.com/salomai/salombot/internal/telegram"
	"github.com/salomai/salombot/internal/tracing"
	"github.com/salomai/salombot/pkg/backend"
	"github.com/salomai/salombot/pkg/history"
	"github.com/salomai/salombot/pkg/session"
	"github.com/salomai/salombot/pkg/updatequeue"
)

// Daemon represents the salombot daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store   *session.Store
	sweeper *session.Sweeper
	backend *backend.Client
	history *history.Recorder
	queue   *updatequeue.Queue
	deduper *updatequeue.Deduper

	// Telegram
	bot       *telegram.Bot
	handler   *telegram.Handler
	commands  *telegram.Commands
	media     *telegram.Media
	streaming *telegram.Streaming

	// Services
	metricsServer *Server
	watcher       *config.Watcher

	// Ephemeral per-user chat state. Pending attachments are file URLs
	// waiting for the next text turn; input modes route the next plain
	// message into the image/settings/feedback flows.
	pending    map[int64][]string
	inputModes map[int64]string
	stateMu    sync.Mutex

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

var newTelegramBot = func(cfg *config.TelegramConfig, log *logger.Logger) (*telegram.Bot, error) {
	return telegram.New(cfg, log)
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	d := &Daemon{
		config:     cfg,
		logger:     log,
		pending:    make(map[int64][]string),
		inputModes: make(map[int64]string),
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize the Telegram surface
	if err := d.initializeTelegram(); err != nil {
		return nil, fmt.Errorf("failed to initialize telegram: %w", err)
	}

	return d, nil
}

// initializeCoreModules initializes everything below the Telegram surface
func (d *Daemon) initializeCoreModules() error {
	// Initialize audit logger
	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	d.store = session.New(session.Options{
		Path:            d.config.Session.StateFile,
		DefaultModel:    d.config.Backend.DefaultModel,
		DefaultLanguage: d.config.Backend.DefaultLanguage,
	})
	if err := d.store.Load(); err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	if report := d.store.LoadReport(); report != nil {
		d.logger.Warn().
			Err(report).
			Msg("Session state file was corrupt, starting with empty state")
	}
	metrics.SetSessionRecords(d.store.Len())
	d.logger.Info().
		Str("path", d.store.Path()).
		Int("records", d.store.Len()).
		Msg("Session store loaded")

	retention := time.Duration(d.config.Session.RetentionDays) * 24 * time.Hour
	d.sweeper = session.NewSweeper(d.store, retention, d.config.Session.SweepSchedule)
	d.sweeper.OnSweep(func(deleted int) {
		if deleted > 0 {
			observability.RecordSweepAudit(context.Background(), deleted)
		}
		metrics.SetSessionRecords(d.store.Len())
	})
	d.logger.Info().Int("retention_days", d.config.Session.RetentionDays).Msg("Session sweeper initialized")

	d.backend = backend.New(backend.Options{
		BaseURL:       d.config.Backend.URL,
		Timeout:       time.Duration(d.config.Backend.RequestTimeout) * time.Second,
		StreamTimeout: time.Duration(d.config.Backend.StreamTimeout) * time.Second,
	})
	d.logger.Info().Str("url", d.backend.BaseURL()).Msg("Backend client initialized")

	if d.config.History.Enabled {
		recorder, err := history.Open(d.config.History.Path)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to open interaction history, continuing without it")
		} else {
			d.history = recorder
			d.logger.Info().Str("path", recorder.Path()).Msg("Interaction history initialized")
		}
	}

	d.queue = updatequeue.New(updatequeue.Options{})
	d.logger.Info().Msg("Update queue initialized")

	d.deduper = updatequeue.NewDeduper(time.Duration(d.config.Telegram.DedupeTTLSeconds) * time.Second)
	d.logger.Info().Msg("Update deduper initialized")

	if d.config.Metrics.Enabled {
		d.metricsServer = NewServer(&d.config.Metrics, d.logger, d.Status)
		d.logger.Info().
			Str("host", d.config.Metrics.Host).
			Int("port", d.config.Metrics.Port).
			Msg("Metrics server initialized")
	}

	return nil
}

// initializeTelegram creates the bot and wires the update handlers
func (d *Daemon) initializeTelegram() error {
	bot, err := newTelegramBot(&d.config.Telegram, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.bot = bot

	d.handler = telegram.NewHandler(bot)
	d.handler.SetOnMessage(d.onMessage)
	bot.SetMessageHandler(d.handler)

	d.commands = telegram.NewCommands(bot)
	d.registerCommands()
	bot.SetCommandHandler(d.commands)

	d.media = telegram.NewMedia(bot)
	d.media.SetOnMedia(d.onMedia)
	bot.SetMediaHandler(d.media)

	d.streaming = telegram.NewStreaming(bot)

	bot.SetCallbackHandler(d)

	d.logger.Info().Msg("Telegram bot initialized")
	return nil
}

// WatchConfig starts watching the given config file and applies dynamic
// settings (log level) when it changes. Called by the CLI when a config
// file path is known.
func (d *Daemon) WatchConfig(path string) error {
	watcher, err := config.NewWatcher(path, d.applyConfig)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	d.watcher = watcher
	d.logger.Info().Str("path", path).Msg("Config watcher started")
	return nil
}

// applyConfig applies the dynamically changeable subset of a reloaded config
func (d *Daemon) applyConfig(cfg *config.Config) {
	if cfg.Logging.Level != d.config.Logging.Level {
		level := logger.SetLevel(cfg.Logging.Level)
		d.logger.Info().Str("level", level.String()).Msg("Log level changed")
		d.config.Logging.Level = cfg.Logging.Level
	}

	observability.RecordConfigAudit(context.Background(), "reload", map[string]interface{}{
		"log_level": cfg.Logging.Level,
	})
	d.logger.Info().Msg("Configuration reloaded")
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting salombot daemon")

	// Start metrics server if enabled
	if d.metricsServer != nil {
		if err := d.metricsServer.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start metrics server")
		} else {
			logger.Info().Msg("Metrics server started")
		}
	}

	// Start session sweeper
	if err := d.sweeper.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start session sweeper")
	}

	// Start Telegram bot
	if err := d.bot.Start(); err != nil {
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}
	logger.Info().Msg("Telegram bot started")

	// Publish the command list shown in the Telegram UI
	if err := d.commands.SetCommands(botCommands()); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish bot commands")
	}

	logger.Info().Msg("Daemon started successfully")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping salombot daemon")

	// Stop watching the config file
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	// Stop accepting Telegram updates
	if err := d.bot.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop telegram bot")
	}

	// Drain the per-user lanes so accepted turns finish (with timeout)
	done := make(chan struct{})
	go func() {
		if err := d.queue.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close update queue")
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("Update queue drained")
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("Timeout draining update queue")
	}

	d.deduper.Stop()

	// Stop session sweeper
	if d.sweeper.IsRunning() {
		if err := d.sweeper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session sweeper")
		}
	}

	// Stop metrics server
	if d.metricsServer != nil {
		if err := d.metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	// Flush and close the session store so the last mutation survives restart
	if err := d.store.Flush(); err != nil {
		logger.Error().Err(err).Msg("Failed to flush session store")
	}
	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}

	// Close interaction history
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close interaction history")
		}
	}

	// Close audit logger
	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.store.Len(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	queueStats := d.queue.Stats()
	status.Lanes = queueStats.Lanes
	status.Queued = queueStats.Queued

	return status
}

// Wait waits for the daemon to stop
func (d *Daemon) Wait() {
	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	// Stop daemon
	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetStore returns the session store
func (d *Daemon) GetStore() *session.Store {
	return d.store
}

// GetBackend returns the backend client
func (d *Daemon) GetBackend() *backend.Client {
	return d.backend
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Sessions  int
	Lanes     int
	Queued    int
}
