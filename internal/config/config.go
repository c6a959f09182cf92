package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session modes.
const (
	ModePerChunk       = "per_chunk"
	ModeWholeRecording = "whole_recording"
)

// Archive drivers.
const (
	ArchiveNone     = "none"
	ArchiveFile     = "file"
	ArchiveSQLite   = "sqlite"
	ArchivePostgres = "postgres"
	ArchiveRedis    = "redis"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Session       SessionConfig       `yaml:"session"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Billing       BillingConfig       `yaml:"billing"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Logging       LoggingConfig       `yaml:"logging"`
	Sentry        SentryConfig        `yaml:"sentry"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port          int    `yaml:"port"`
	Address       string `yaml:"address"`
	MaxChunkBytes int64  `yaml:"max_chunk_bytes"`
	ReadTimeout   int    `yaml:"read_timeout"`  // seconds
	WriteTimeout  int    `yaml:"write_timeout"` // seconds
	IdleTimeout   int    `yaml:"idle_timeout"`  // seconds
	CORSOrigin    string `yaml:"cors_origin"`
}

// SessionConfig contains session lifecycle parameters
type SessionConfig struct {
	Mode        string `yaml:"mode"`
	Retention   int    `yaml:"retention"` // seconds
	PollWorkers int    `yaml:"poll_workers"`
	MaxIDLength int    `yaml:"max_id_length"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Timeout         int    `yaml:"timeout"` // seconds
	MaxConcurrent   int    `yaml:"max_concurrent"`
	LanguageCode    string `yaml:"language_code"`
	SpeechModel     string `yaml:"speech_model"`
	Punctuate       bool   `yaml:"punctuate"`
	FormatText      bool   `yaml:"format_text"`
	PollInterval    int    `yaml:"poll_interval_ms"`
	MaxPollAttempts int    `yaml:"max_poll_attempts"`
}

// BillingConfig contains pricing parameters
type BillingConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Currency      string  `yaml:"currency"`
}

// ArchiveConfig selects where closed session records are written
type ArchiveConfig struct {
	Driver        string `yaml:"driver"`
	Dir           string `yaml:"dir"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	TTL           int    `yaml:"ttl"` // seconds, 0 keeps records forever
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SentryConfig contains error reporting configuration. An empty DSN disables it.
type SentryConfig struct {
	DSN              string  `yaml:"dsn"`
	Environment      string  `yaml:"environment"`
	TracesSampleRate float64 `yaml:"traces_sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML, applies defaults and environment overrides, then validates.
func Parse(data []byte) (*Config, error) {
	config := Config{
		Transcription: TranscriptionConfig{Punctuate: true, FormatText: true},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 3001
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = "0.0.0.0"
	}
	if c.HTTP.MaxChunkBytes == 0 {
		c.HTTP.MaxChunkBytes = 10 << 20
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 60
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 120
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 120
	}
	if c.HTTP.CORSOrigin == "" {
		c.HTTP.CORSOrigin = "*"
	}

	if c.Session.Mode == "" {
		c.Session.Mode = ModePerChunk
	}
	if c.Session.Retention == 0 {
		c.Session.Retention = 3600
	}
	if c.Session.PollWorkers == 0 {
		c.Session.PollWorkers = 8
	}
	if c.Session.MaxIDLength == 0 {
		c.Session.MaxIDLength = 128
	}

	if c.Transcription.Endpoint == "" {
		c.Transcription.Endpoint = "https://api.assemblyai.com/v2"
	}
	if c.Transcription.Timeout == 0 {
		c.Transcription.Timeout = 30
	}
	if c.Transcription.MaxConcurrent == 0 {
		c.Transcription.MaxConcurrent = 10
	}
	if c.Transcription.LanguageCode == "" {
		c.Transcription.LanguageCode = "en"
	}
	if c.Transcription.PollInterval == 0 {
		c.Transcription.PollInterval = 1000
	}
	if c.Transcription.MaxPollAttempts == 0 {
		c.Transcription.MaxPollAttempts = 30
	}

	if c.Billing.RatePerSecond == 0 {
		c.Billing.RatePerSecond = 0.005
	}
	if c.Billing.Currency == "" {
		c.Billing.Currency = "USD"
	}

	if c.Archive.Driver == "" {
		c.Archive.Driver = ArchiveNone
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = "./sessions"
	}
	if c.Archive.KeyPrefix == "" {
		c.Archive.KeyPrefix = "stt:session:"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "development"
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	for _, key := range []string{"ASSEMBLYAI_API_KEY", "TRANSCRIBE_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			c.Transcription.APIKey = v
			break
		}
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.Sentry.DSN = v
	}
	if v := os.Getenv("ARCHIVE_DSN"); v != "" {
		c.Archive.DSN = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Billing.Validate(); err != nil {
		return fmt.Errorf("billing config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Sentry.Validate(); err != nil {
		return fmt.Errorf("sentry config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.MaxChunkBytes < 1024 {
		return fmt.Errorf("max_chunk_bytes must be at least 1024 bytes, got %d", h.MaxChunkBytes)
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 || h.IdleTimeout < 1 {
		return fmt.Errorf("read, write and idle timeouts must be at least 1 second")
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.Mode != ModePerChunk && s.Mode != ModeWholeRecording {
		return fmt.Errorf("mode must be '%s' or '%s', got '%s'", ModePerChunk, ModeWholeRecording, s.Mode)
	}

	if s.Retention < 1 {
		return fmt.Errorf("retention must be at least 1 second, got %d", s.Retention)
	}

	if s.PollWorkers < 1 {
		return fmt.Errorf("poll_workers must be at least 1, got %d", s.PollWorkers)
	}

	if s.MaxIDLength < 1 {
		return fmt.Errorf("max_id_length must be at least 1, got %d", s.MaxIDLength)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(t.Endpoint, "http://") && !strings.HasPrefix(t.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http or https URL, got '%s'", t.Endpoint)
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set it in the file or ASSEMBLYAI_API_KEY)")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.PollInterval < 10 {
		return fmt.Errorf("poll_interval_ms must be at least 10, got %d", t.PollInterval)
	}

	if t.MaxPollAttempts < 1 {
		return fmt.Errorf("max_poll_attempts must be at least 1, got %d", t.MaxPollAttempts)
	}

	return nil
}

// Validate validates billing configuration
func (b *BillingConfig) Validate() error {
	if b.RatePerSecond <= 0 {
		return fmt.Errorf("rate_per_second must be positive, got %f", b.RatePerSecond)
	}

	if len(b.Currency) != 3 {
		return fmt.Errorf("currency must be a 3 letter code, got '%s'", b.Currency)
	}

	return nil
}

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	switch a.Driver {
	case ArchiveNone:
	case ArchiveFile:
		if a.Dir == "" {
			return fmt.Errorf("dir cannot be empty for the file driver")
		}
	case ArchiveSQLite, ArchivePostgres:
		if a.DSN == "" {
			return fmt.Errorf("dsn cannot be empty for the %s driver", a.Driver)
		}
	case ArchiveRedis:
		if a.RedisAddr == "" {
			return fmt.Errorf("redis_addr cannot be empty for the redis driver")
		}
		if a.RedisDB < 0 {
			return fmt.Errorf("redis_db cannot be negative, got %d", a.RedisDB)
		}
	default:
		return fmt.Errorf("driver must be one of [none, file, sqlite, postgres, redis], got '%s'", a.Driver)
	}

	if a.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative, got %d", a.TTL)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// anything other than stdout/stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Validate validates sentry configuration
func (s *SentryConfig) Validate() error {
	if s.TracesSampleRate < 0 || s.TracesSampleRate > 1 {
		return fmt.Errorf("traces_sample_rate must be between 0 and 1, got %f", s.TracesSampleRate)
	}
	return nil
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetIdleTimeoutDuration returns the idle timeout as a time.Duration
func (h *HTTPConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(h.IdleTimeout) * time.Second
}

// GetRetentionDuration returns how long closed sessions are kept
func (s *SessionConfig) GetRetentionDuration() time.Duration {
	return time.Duration(s.Retention) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetPollIntervalDuration returns the job poll interval as a time.Duration
func (t *TranscriptionConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(t.PollInterval) * time.Millisecond
}

// GetTTLDuration returns the archive record TTL as a time.Duration
func (a *ArchiveConfig) GetTTLDuration() time.Duration {
	return time.Duration(a.TTL) * time.Second
}
