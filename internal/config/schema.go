package config

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON Schema the config file is validated against before
// unmarshaling. Unknown keys are allowed for forward compatibility; known
// keys must carry the right types so a typo'd file fails loudly instead of
// silently falling back to defaults.
const Schema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"backend": {
			"type": "object",
			"properties": {
				"url": {"type": "string"},
				"default_model": {"type": "string"},
				"default_language": {"type": "string"},
				"request_timeout": {"type": "integer", "minimum": 1},
				"stream_timeout": {"type": "integer", "minimum": 1}
			}
		},
		"telegram": {
			"type": "object",
			"properties": {
				"token": {"type": "string"},
				"poll_timeout": {"type": "integer", "minimum": 1},
				"stream_min_chars": {"type": "integer", "minimum": 0},
				"stream_min_interval_ms": {"type": "integer", "minimum": 0},
				"dedupe_ttl_seconds": {"type": "integer", "minimum": 0}
			}
		},
		"session": {
			"type": "object",
			"properties": {
				"state_file": {"type": "string"},
				"retention_days": {"type": "integer", "minimum": 0},
				"sweep_schedule": {"type": "string"}
			}
		},
		"history": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"path": {"type": "string"}
			}
		},
		"logging": {
			"type": "object",
			"properties": {
				"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"max_size": {"type": "integer", "minimum": 0},
				"max_age": {"type": "integer", "minimum": 0},
				"compress": {"type": "boolean"},
				"redaction": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			}
		},
		"metrics": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"host": {"type": "string"},
				"port": {"type": "integer", "minimum": 1, "maximum": 65535}
			}
		},
		"data_dir": {"type": "string"}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateDocument validates raw config file bytes against the schema.
func ValidateDocument(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errMsg string
		for i, verr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += verr.String()
		}
		return fmt.Errorf("schema validation errors: %s", errMsg)
	}

	return nil
}
