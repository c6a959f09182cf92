package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ASSEMBLYAI_API_KEY", "TRANSCRIBE_API_KEY", "SENTRY_DSN", "ARCHIVE_DSN"} {
		t.Setenv(key, "")
	}
}

func validConfig() Config {
	c := Default()
	c.Transcription.APIKey = "test-key"
	return *c
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "chunk ceiling too small",
			mutate:      func(c *Config) { c.HTTP.MaxChunkBytes = 10 },
			expectError: true,
			errorMsg:    "max_chunk_bytes",
		},
		{
			name:        "unknown session mode",
			mutate:      func(c *Config) { c.Session.Mode = "streaming" },
			expectError: true,
			errorMsg:    "mode must be",
		},
		{
			name:        "whole recording mode",
			mutate:      func(c *Config) { c.Session.Mode = ModeWholeRecording },
			expectError: false,
		},
		{
			name:        "missing api key",
			mutate:      func(c *Config) { c.Transcription.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "endpoint without scheme",
			mutate:      func(c *Config) { c.Transcription.Endpoint = "api.assemblyai.com" },
			expectError: true,
			errorMsg:    "endpoint must be an http or https URL",
		},
		{
			name:        "zero poll attempts",
			mutate:      func(c *Config) { c.Transcription.MaxPollAttempts = 0 },
			expectError: true,
			errorMsg:    "max_poll_attempts",
		},
		{
			name:        "negative rate",
			mutate:      func(c *Config) { c.Billing.RatePerSecond = -0.005 },
			expectError: true,
			errorMsg:    "rate_per_second must be positive",
		},
		{
			name:        "sqlite without dsn",
			mutate:      func(c *Config) { c.Archive.Driver = ArchiveSQLite },
			expectError: true,
			errorMsg:    "dsn cannot be empty for the sqlite driver",
		},
		{
			name: "redis archive",
			mutate: func(c *Config) {
				c.Archive.Driver = ArchiveRedis
				c.Archive.RedisAddr = "localhost:6379"
			},
			expectError: false,
		},
		{
			name:        "unknown archive driver",
			mutate:      func(c *Config) { c.Archive.Driver = "s3" },
			expectError: true,
			errorMsg:    "driver must be one of",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "sentry sample rate out of range",
			mutate:      func(c *Config) { c.Sentry.TracesSampleRate = 2 },
			expectError: true,
			errorMsg:    "traces_sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 8080
  address: "127.0.0.1"
  max_chunk_bytes: 5242880
session:
  mode: "per_chunk"
  retention: 600
transcription:
  endpoint: "http://localhost:8090/v2"
  api_key: "test-key"
  poll_interval_ms: 500
  max_poll_attempts: 20
  punctuate: false
billing:
  rate_per_second: 0.01
archive:
  driver: "file"
  dir: "/tmp/sessions"
logging:
  level: "debug"
  format: "json"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing api key",
			configYAML: `
http:
  port: 8080
`,
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			if config.HTTP.Port != 8080 {
				t.Errorf("Expected port 8080, got %d", config.HTTP.Port)
			}
			if config.Transcription.GetPollIntervalDuration() != 500*time.Millisecond {
				t.Errorf("Expected poll interval 500ms, got %v", config.Transcription.GetPollIntervalDuration())
			}
			if config.Transcription.Punctuate {
				t.Error("Expected punctuate to be disabled by the file")
			}
			if !config.Transcription.FormatText {
				t.Error("Expected format_text to default to true")
			}
			if config.Session.GetRetentionDuration() != 10*time.Minute {
				t.Errorf("Expected retention 10m, got %v", config.Session.GetRetentionDuration())
			}
			// untouched fields fall back to defaults
			if config.Billing.Currency != "USD" {
				t.Errorf("Expected default currency USD, got %s", config.Billing.Currency)
			}
			if config.Transcription.GetTimeoutDuration() != 30*time.Second {
				t.Errorf("Expected default timeout 30s, got %v", config.Transcription.GetTimeoutDuration())
			}
		})
	}
}

func TestConfigLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASSEMBLYAI_API_KEY", "from-env")
	t.Setenv("SENTRY_DSN", "https://key@sentry.example/1")
	t.Setenv("ARCHIVE_DSN", "file:sessions.db")

	config, err := Parse([]byte("archive:\n  driver: sqlite\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if config.Transcription.APIKey != "from-env" {
		t.Errorf("Expected api key from env, got %q", config.Transcription.APIKey)
	}
	if config.Sentry.DSN != "https://key@sentry.example/1" {
		t.Errorf("Expected sentry dsn from env, got %q", config.Sentry.DSN)
	}
	if config.Archive.DSN != "file:sessions.db" {
		t.Errorf("Expected archive dsn from env, got %q", config.Archive.DSN)
	}
}

func TestDefaults(t *testing.T) {
	c := Default()

	if c.HTTP.MaxChunkBytes != 10<<20 {
		t.Errorf("Expected 10 MiB chunk ceiling, got %d", c.HTTP.MaxChunkBytes)
	}
	if c.Session.GetRetentionDuration() != time.Hour {
		t.Errorf("Expected 1h retention, got %v", c.Session.GetRetentionDuration())
	}
	if c.Transcription.MaxPollAttempts != 30 {
		t.Errorf("Expected 30 poll attempts, got %d", c.Transcription.MaxPollAttempts)
	}
	if c.Transcription.GetPollIntervalDuration() != time.Second {
		t.Errorf("Expected 1s poll interval, got %v", c.Transcription.GetPollIntervalDuration())
	}
	if c.Billing.RatePerSecond != 0.005 {
		t.Errorf("Expected rate 0.005, got %f", c.Billing.RatePerSecond)
	}
	if c.Archive.Driver != ArchiveNone {
		t.Errorf("Expected archive driver none, got %s", c.Archive.Driver)
	}
}
