package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Salombot Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Backend URL
	for {
		fmt.Print("Backend URL (e.g. https://api.salom.example): ")
		raw, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if raw == "" {
			fmt.Println("Error: backend URL is required")
			continue
		}

		if err := validator.ValidateBackendURL(raw); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Backend.URL = raw
		break
	}

	fmt.Println()

	// Telegram Bot Token
	for {
		fmt.Print("Telegram Bot Token: ")
		token, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if token == "" {
			fmt.Println("Error: bot token is required")
			continue
		}

		if err := validator.ValidateTelegramToken(token); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Telegram.Token = token
		break
	}

	fmt.Println()

	// Default Model
	fmt.Printf("Default model [%s]: ", cfg.Backend.DefaultModel)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Backend.DefaultModel = model
	}

	// Default Language
	fmt.Printf("Default language [%s]: ", cfg.Backend.DefaultLanguage)
	lang, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if lang != "" {
		if err := validator.ValidateLanguage(lang); err != nil {
			fmt.Printf("Warning: %v, using default (%s)\n", err, cfg.Backend.DefaultLanguage)
		} else {
			cfg.Backend.DefaultLanguage = lang
		}
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()

	// Metrics listener
	fmt.Print("Expose metrics/health endpoint? (y/n) [n]: ")
	enable, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if strings.ToLower(enable) == "y" {
		cfg.Metrics.Enabled = true
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
