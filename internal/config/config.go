package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main salombot configuration
type Config struct {
	// Backend connection
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// Telegram surface
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Session store
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Interaction history
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// BackendConfig holds the Salom backend connection settings
type BackendConfig struct {
	URL             string `json:"url" mapstructure:"url"`
	DefaultModel    string `json:"default_model" mapstructure:"default_model"`
	DefaultLanguage string `json:"default_language" mapstructure:"default_language"`
	RequestTimeout  int    `json:"request_timeout" mapstructure:"request_timeout"` // seconds
	StreamTimeout   int    `json:"stream_timeout" mapstructure:"stream_timeout"`   // seconds
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Token             string `json:"token" mapstructure:"token"`
	PollTimeout       int    `json:"poll_timeout" mapstructure:"poll_timeout"`                 // seconds
	StreamMinChars    int    `json:"stream_min_chars" mapstructure:"stream_min_chars"`         // runes pending before an edit
	StreamMinInterval int    `json:"stream_min_interval_ms" mapstructure:"stream_min_interval_ms"` // ms between edits
	DedupeTTLSeconds  int    `json:"dedupe_ttl_seconds" mapstructure:"dedupe_ttl_seconds"`
}

// SessionConfig holds session store settings
type SessionConfig struct {
	StateFile     string `json:"state_file" mapstructure:"state_file"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"` // 0 keeps records forever
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron expression
}

// HistoryConfig holds interaction history settings
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig holds the optional metrics/health listener configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			DefaultModel:    "gpt-4o-mini",
			DefaultLanguage: "en",
			RequestTimeout:  30,
			StreamTimeout:   60,
		},
		Telegram: TelegramConfig{
			PollTimeout:       60,
			StreamMinChars:    20,
			StreamMinInterval: 1500,
			DedupeTTLSeconds:  300,
		},
		Session: SessionConfig{
			RetentionDays: 0,
			SweepSchedule: "0 4 * * *",
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9090,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid for running the daemon
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required (set BACKEND_URL or backend.url)")
	}
	if err := v.ValidateBackendURL(c.Backend.URL); err != nil {
		return err
	}
	if c.Backend.RequestTimeout <= 0 {
		return fmt.Errorf("backend request_timeout must be positive, got %d", c.Backend.RequestTimeout)
	}
	if c.Backend.StreamTimeout <= 0 {
		return fmt.Errorf("backend stream_timeout must be positive, got %d", c.Backend.StreamTimeout)
	}
	if c.Backend.DefaultModel == "" {
		return fmt.Errorf("backend default_model must not be empty")
	}
	if err := v.ValidateLanguage(c.Backend.DefaultLanguage); err != nil {
		return err
	}

	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required (set TELEGRAM_TOKEN or telegram.token)")
	}
	if c.Telegram.PollTimeout <= 0 {
		return fmt.Errorf("telegram poll_timeout must be positive, got %d", c.Telegram.PollTimeout)
	}
	if c.Telegram.StreamMinChars < 0 {
		return fmt.Errorf("telegram stream_min_chars must be >= 0")
	}
	if c.Telegram.StreamMinInterval < 0 {
		return fmt.Errorf("telegram stream_min_interval_ms must be >= 0")
	}
	if c.Telegram.DedupeTTLSeconds < 0 {
		return fmt.Errorf("telegram dedupe_ttl_seconds must be >= 0")
	}

	if c.Session.RetentionDays < 0 {
		return fmt.Errorf("session retention_days must be >= 0")
	}
	if c.Session.RetentionDays > 0 {
		if err := v.ValidateSweepSchedule(c.Session.SweepSchedule); err != nil {
			return err
		}
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.Metrics.Port)
		}
	}

	return nil
}
