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

	"github.com/qxb-in/ot/internal/config"
	"github.com/qxb-in/ot/internal/metrics"
	"github.com/qxb-in/ot/internal/provider/catalog"
	"github.com/qxb-in/ot/internal/server"
	"github.com/qxb-in/ot/internal/session"
	"github.com/qxb-in/ot/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "ot"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file with vendor credentials")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.String("dialect", cfg.HTTP.Dialect),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.Int("queue_capacity", cfg.Session.QueueCapacity),
		slog.Float64("config_timeout", cfg.Session.ConfigTimeout),
		slog.Float64("drain_timeout", cfg.Session.DrainTimeout),
		slog.String("default_asr", cfg.Vendors.DefaultASR),
		slog.String("default_tts", cfg.Vendors.DefaultTTS),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Register every vendor with credentials
	registry := catalog.Build(cfg, logger)

	// Initialize session manager
	sessions := session.NewManager(&cfg.Session, registry, logger, appMetrics)
	logger.Info("Session manager initialized",
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.Duration("max_duration", cfg.Session.GetMaxDuration()),
	)

	// Batch transcription is optional
	var transcriber *transcription.Client
	if batch, err := registry.Batch(); err == nil {
		transcriber, err = transcription.NewClient(transcription.Config{
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: cfg.Transcription.MaxConcurrent,
			MaxFileSize:   cfg.Transcription.MaxFileSize,
		}, batch, logger, appMetrics)
		if err != nil {
			logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Transcription client initialized", slog.String("vendor", batch.Name()))
	} else {
		logger.Info("Batch transcription disabled", slog.String("reason", err.Error()))
	}

	// Initialize and start HTTP server
	httpServer := server.NewHTTPServer(cfg, logger, sessions, registry, transcriber, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Received shutdown signal")
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Close live sessions; hijacked websockets are not covered by Shutdown
	sessions.Stop()

	if transcriber != nil {
		transcriber.Close()
		stats := transcriber.GetStats()
		logger.Info("Final transcription statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("success_requests", stats.SuccessRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
		)
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
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
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
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

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
