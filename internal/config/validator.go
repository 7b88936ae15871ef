package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	// telegramTokenRegex matches the <bot_id>:<secret> token shape
	telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

	// languageRegex matches two-letter tags with an optional region
	languageRegex = regexp.MustCompile(`^[a-z]{2}(-[A-Za-z]{2})?$`)
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBackendURL validates the backend base URL
func (v *Validator) ValidateBackendURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("backend url cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend url must use http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("backend url has no host: %q", raw)
	}
	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	// Example: 123456789:ABCdefGHIjklMNOpqrsTUVwxyz
	if !telegramTokenRegex.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateLanguage validates a language tag
func (v *Validator) ValidateLanguage(lang string) error {
	if lang == "" {
		return fmt.Errorf("language cannot be empty")
	}
	if !languageRegex.MatchString(lang) {
		return fmt.Errorf("invalid language tag: %s (expected e.g. en, ru, uz)", lang)
	}
	return nil
}

// ValidateSweepSchedule validates a 5-field cron expression
func (v *Validator) ValidateSweepSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("sweep schedule cannot be empty when retention is enabled")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation and collects every problem
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.Backend.URL != "" {
		if err := v.ValidateBackendURL(cfg.Backend.URL); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Backend.RequestTimeout < 0 {
		errors = append(errors, fmt.Errorf("backend request_timeout must be >= 0"))
	}
	if cfg.Backend.DefaultLanguage != "" {
		if err := v.ValidateLanguage(cfg.Backend.DefaultLanguage); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Telegram.Token != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.Token); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Telegram.DedupeTTLSeconds < 0 {
		errors = append(errors, fmt.Errorf("telegram dedupe_ttl_seconds must be >= 0"))
	}
	if cfg.Telegram.StreamMinInterval < 0 {
		errors = append(errors, fmt.Errorf("telegram stream_min_interval_ms must be >= 0"))
	}
	if cfg.Telegram.StreamMinChars < 0 {
		errors = append(errors, fmt.Errorf("telegram stream_min_chars must be >= 0"))
	}

	if cfg.Session.RetentionDays < 0 {
		errors = append(errors, fmt.Errorf("session retention_days must be >= 0"))
	}
	if cfg.Session.SweepSchedule != "" {
		if err := v.ValidateSweepSchedule(cfg.Session.SweepSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
