package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load builds the effective configuration: defaults, then the JSON config
// file (when present), then environment. Environment always wins over file
// values.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	setDefaults(v)

	// SALOM_-prefixed names for everything, e.g. SALOM_LOGGING_LEVEL.
	v.SetEnvPrefix("SALOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if data, err := os.ReadFile(configPath); err == nil {
		if err := ValidateDocument(data); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.fillDerivedPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindLegacyEnv binds the unprefixed names this system has always been
// deployed with.
func bindLegacyEnv(v *viper.Viper) {
	v.BindEnv("backend.url", "SALOM_BACKEND_URL", "BACKEND_URL")
	v.BindEnv("backend.default_model", "SALOM_BACKEND_DEFAULT_MODEL", "DEFAULT_MODEL")
	v.BindEnv("backend.default_language", "SALOM_BACKEND_DEFAULT_LANGUAGE", "DEFAULT_LANGUAGE")
	v.BindEnv("backend.request_timeout", "SALOM_BACKEND_REQUEST_TIMEOUT", "REQUEST_TIMEOUT")
	v.BindEnv("session.state_file", "SALOM_SESSION_STATE_FILE", "STATE_FILE")
	v.BindEnv("telegram.token", "SALOM_TELEGRAM_TOKEN", "TELEGRAM_TOKEN")
}

// setDefaults registers every known key so automatic env lookups see them.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("backend.url", def.Backend.URL)
	v.SetDefault("backend.default_model", def.Backend.DefaultModel)
	v.SetDefault("backend.default_language", def.Backend.DefaultLanguage)
	v.SetDefault("backend.request_timeout", def.Backend.RequestTimeout)
	v.SetDefault("backend.stream_timeout", def.Backend.StreamTimeout)

	v.SetDefault("telegram.token", def.Telegram.Token)
	v.SetDefault("telegram.poll_timeout", def.Telegram.PollTimeout)
	v.SetDefault("telegram.stream_min_chars", def.Telegram.StreamMinChars)
	v.SetDefault("telegram.stream_min_interval_ms", def.Telegram.StreamMinInterval)
	v.SetDefault("telegram.dedupe_ttl_seconds", def.Telegram.DedupeTTLSeconds)

	v.SetDefault("session.state_file", def.Session.StateFile)
	v.SetDefault("session.retention_days", def.Session.RetentionDays)
	v.SetDefault("session.sweep_schedule", def.Session.SweepSchedule)

	v.SetDefault("history.enabled", def.History.Enabled)
	v.SetDefault("history.path", def.History.Path)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.redaction", def.Logging.Redaction)
	v.SetDefault("logging.pretty", def.Logging.Pretty)

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.host", def.Metrics.Host)
	v.SetDefault("metrics.port", def.Metrics.Port)

	v.SetDefault("data_dir", def.DataDir)
}

// fillDerivedPaths resolves the paths that default relative to the data dir.
func (l *Loader) fillDerivedPaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".salombot")
	}

	if cfg.Session.StateFile == "" {
		cfg.Session.StateFile = filepath.Join(cfg.DataDir, "state.json")
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "salombot.log")
	}

	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Set all config values (use canonical fields only)
	v.Set("backend", cfg.Backend)
	v.Set("telegram", cfg.Telegram)
	v.Set("session", cfg.Session)
	v.Set("history", cfg.History)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	// Write config file
	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".salombot", "salombot.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
