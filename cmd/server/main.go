package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Alissonpcl/ai-stt-learning/internal/archive"
	"github.com/Alissonpcl/ai-stt-learning/internal/config"
	"github.com/Alissonpcl/ai-stt-learning/internal/jobs"
	"github.com/Alissonpcl/ai-stt-learning/internal/metrics"
	"github.com/Alissonpcl/ai-stt-learning/internal/server"
	"github.com/Alissonpcl/ai-stt-learning/internal/session"
	"github.com/Alissonpcl/ai-stt-learning/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "ai-stt-learning"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("address", cfg.HTTP.Address),
		slog.String("mode", cfg.Session.Mode),
		slog.Int("retention", cfg.Session.Retention),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Int("max_poll_attempts", cfg.Transcription.MaxPollAttempts),
		slog.Duration("poll_interval", cfg.Transcription.GetPollIntervalDuration()),
		slog.Float64("rate_per_second", cfg.Billing.RatePerSecond),
		slog.String("archive_driver", cfg.Archive.Driver),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          serviceName + "@" + serviceVersion,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		})
		if err != nil {
			logger.Warn("Sentry initialization failed", slog.String("error", err.Error()))
		} else {
			logger.Info("Sentry initialized", slog.String("environment", cfg.Sentry.Environment))
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics on the default registry
	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	client, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		LanguageCode:  cfg.Transcription.LanguageCode,
		SpeechModel:   cfg.Transcription.SpeechModel,
		Punctuate:     cfg.Transcription.Punctuate,
		FormatText:    cfg.Transcription.FormatText,
		Observer:      appMetrics,
	})
	if err != nil {
		startupFailure(sentry.CurrentHub(), logger, "Failed to create transcription client", err)
		os.Exit(1)
	}

	sink, err := archive.Open(ctx, cfg.Archive, logger)
	if err != nil {
		startupFailure(sentry.CurrentHub(), logger, "Failed to open session archive", err)
		os.Exit(1)
	}

	sessionConfig := session.ManagerConfig{
		Mode:      cfg.Session.Mode,
		Retention: cfg.Session.GetRetentionDuration(),
		Budget: jobs.Budget{
			MaxAttempts: cfg.Transcription.MaxPollAttempts,
			Interval:    cfg.Transcription.GetPollIntervalDuration(),
		},
		PollWorkers:     cfg.Session.PollWorkers,
		MaxPayloadBytes: cfg.HTTP.MaxChunkBytes,
		MaxIDLength:     cfg.Session.MaxIDLength,
		RatePerSecond:   cfg.Billing.RatePerSecond,
		Currency:        cfg.Billing.Currency,
		FinalizeGrace:   cfg.Transcription.GetTimeoutDuration(),
	}

	sessionMgr, err := session.NewManager(logger, client, sessionConfig,
		session.WithArchive(cfg.Archive.Driver, sink),
		session.WithMetrics(appMetrics),
	)
	if err != nil {
		startupFailure(sentry.CurrentHub(), logger, "Failed to create session manager", err)
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("retention", sessionConfig.Retention),
		slog.Duration("job_window", sessionConfig.Budget.Window()),
	)

	httpServer := server.NewHTTPServer(logger, cfg, sessionMgr, client, appMetrics, nil)
	if err := httpServer.Start(); err != nil {
		startupFailure(sentry.CurrentHub(), logger, "Failed to start HTTP server", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new chunks)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	sessionMgr.Stop()

	if err := client.Close(); err != nil {
		logger.Warn("Error closing transcription client", slog.String("error", err.Error()))
	}
	if err := sink.Close(); err != nil {
		logger.Warn("Error closing session archive", slog.String("error", err.Error()))
	}

	stats := client.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("successful_requests", stats.SuccessRequests),
		slog.Float64("success_rate", stats.SuccessRate),
	)

	logger.Info("Service stopped")
}

// startupFailure logs err and reports it to Sentry before the caller exits.
// os.Exit skips deferred calls, so the event is flushed here.
func startupFailure(hub *sentry.Hub, logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	hub.CaptureException(fmt.Errorf("%s: %w", msg, err))
	hub.Flush(2 * time.Second)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
