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

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
	"github.com/AndrewMead10/discord-call-transcriber/internal/config"
	"github.com/AndrewMead10/discord-call-transcriber/internal/dashboard"
	"github.com/AndrewMead10/discord-call-transcriber/internal/metrics"
	"github.com/AndrewMead10/discord-call-transcriber/internal/mixdown"
	"github.com/AndrewMead10/discord-call-transcriber/internal/pipeline"
	"github.com/AndrewMead10/discord-call-transcriber/internal/segment"
	"github.com/AndrewMead10/discord-call-transcriber/internal/store"
	"github.com/AndrewMead10/discord-call-transcriber/internal/summary"
	"github.com/AndrewMead10/discord-call-transcriber/internal/transcribe"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "discord-call-transcriber"
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
		slog.String("capture_root", cfg.Capture.Root),
		slog.Float64("silence_timeout", cfg.Capture.SilenceTimeout),
		slog.Int("source_rate", cfg.Audio.SourceRate),
		slog.Int("target_rate", cfg.Audio.TargetRate),
		slog.Int("min_padding_ms", cfg.Segmenter.MinPaddingMillis),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("summary_enabled", cfg.Summary.APIKey != ""),
		slog.String("store_path", cfg.Store.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Open persistence store (optional)
	var sessionStore *store.Store
	if cfg.Store.Path != "" {
		sessionStore, err = store.Open(cfg.Store.Path)
		if err != nil {
			logger.Error("Failed to open session store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer sessionStore.Close()
		logger.Info("Session store opened", slog.String("path", cfg.Store.Path))
	} else {
		logger.Warn("No store path configured, session persistence disabled")
	}

	// Initialize transcription client
	uploader := transcribe.NewClient(transcribe.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		BatchEndpoint: cfg.Transcription.BatchEndpoint,
		AuthHeader:    cfg.Transcription.AuthHeader,
		AuthValue:     cfg.Transcription.AuthValue,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}, logger)
	if !uploader.Enabled() {
		logger.Warn("No transcription endpoint configured, sessions will be skipped")
	}

	// Initialize summarizer
	summarizer := summary.New(summary.Config{
		BaseURL: cfg.Summary.BaseURL,
		APIKey:  cfg.Summary.APIKey,
		Model:   cfg.Summary.Model,
	}, logger)

	// Initialize segmentation and mixdown engines
	engine := segment.NewEngine(segment.Config{
		SourceRate:      cfg.Audio.SourceRate,
		TargetRate:      cfg.Audio.TargetRate,
		MinPadding:      cfg.Segmenter.GetMinPadding(),
		MinPartDuration: cfg.Segmenter.GetMinPartDuration(),
	}, uploader, logger)

	mixer := mixdown.NewEngine(mixdown.Config{
		SourceRate: cfg.Audio.SourceRate,
		Channels:   cfg.Audio.Channels,
	}, logger)

	// Wire the post-session pipeline
	var recorder pipeline.Recorder
	if sessionStore != nil {
		recorder = sessionStore
	}
	sessionPipeline := pipeline.New(logger, engine, mixer, summarizer, recorder, appMetrics)

	// Initialize capture session manager
	captureMgr := capture.NewManager(logger, capture.Options{
		Root:           cfg.Capture.Root,
		SilenceTimeout: cfg.Capture.GetSilenceTimeout(),
	}, cfg.Capture.GetStartTimeout(), appMetrics)
	logger.Info("Capture manager initialized",
		slog.String("root", cfg.Capture.Root),
		slog.Duration("silence_timeout", cfg.Capture.GetSilenceTimeout()),
	)

	// Initialize dashboard API server (if enabled)
	var apiServer *dashboard.Server
	if cfg.HTTP.Enabled {
		apiServer = dashboard.NewServer(dashboard.Config{
			Address:   cfg.HTTP.Address,
			Port:      cfg.HTTP.Port,
			AudioRoot: cfg.Capture.Root,
		}, logger, sessionStore, captureMgr, uploader, appMetrics)
		logger.Info("Dashboard API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := apiServer.Start(); err != nil {
			logger.Error("Failed to start dashboard server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop dashboard server first (stop accepting new requests)
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping dashboard server", slog.String("error", err.Error()))
		}
	}

	// Finalize active capture sessions and run their pipelines
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	manifests := captureMgr.StopAll(stopCtx)
	for _, manifest := range manifests {
		outcome, err := sessionPipeline.Run(stopCtx, manifest)
		if err != nil {
			logger.Error("Session pipeline failed during shutdown",
				slog.String("session_id", manifest.SessionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("Session finalized during shutdown",
			slog.String("session_id", outcome.SessionID),
			slog.String("status", outcome.Status),
		)
	}

	// Get final statistics
	stats := uploader.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

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
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
