package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/trendy-sync/internal/api"
	"github.com/erauner12/trendy-sync/internal/auth"
	"github.com/erauner12/trendy-sync/internal/config"
	"github.com/erauner12/trendy-sync/internal/httpapi"
	"github.com/erauner12/trendy-sync/internal/store"
	"github.com/erauner12/trendy-sync/internal/syncengine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	version = "0.1.0"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (JSON)")
	showVersion = flag.Bool("version", false, "Show version information")
	once        = flag.Bool("once", false, "Run a single sync pass and exit")
	resetCursor = flag.Bool("reset-cursor", false, "Clear the change cursor so the next sync bootstraps")
	interval    = flag.Duration("interval", 0, "Sync interval (overrides config)")
	listenAddr  = flag.String("listen", "", "Status server address (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile     = flag.String("log-file", "", "Log file path with rotation (default stderr)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("trendy-sync version %s\n", version)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("apiBaseUrl", cfg.APIBaseURL).
		Str("environment", cfg.Environment).
		Str("dbPath", cfg.Local.DBPath).
		Msg("Starting trendy-sync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("trendy-sync failed")
		os.Exit(1)
	}

	log.Info().Msg("trendy-sync stopped gracefully")
}

// loadConfig loads the configuration from file and environment, then
// applies CLI flag overrides before validating.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnvironment()
	}
	if err != nil {
		return nil, err
	}

	if *interval > 0 {
		cfg.Sync.Interval = config.Duration(*interval)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global logger
func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.LogLevel))

	if cfg.LogFile != "" {
		log.Logger = zerolog.New(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}).With().Timestamp().Logger()
		return
	}

	if cfg.LogLevel == "debug" {
		// Pretty logging for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
		return
	}

	// JSON logging for production
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// parseLogLevel converts a string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// run wires the engine and drives it until shutdown.
func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.OpenSQLite(cfg.Local.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer db.Close()

	cursor := store.NewFileCursorStore(cfg.Local.CursorPath, cfg.Environment)
	if *resetCursor {
		if err := cursor.Reset(); err != nil {
			return fmt.Errorf("failed to reset cursor: %w", err)
		}
		log.Info().Msg("change cursor cleared, next sync will bootstrap")
	}

	var tokens auth.TokenSource
	if cfg.Auth.RefreshToken != "" {
		tokens = auth.NewRefreshingTokenSource(cfg.RefreshURL(), cfg.Auth.RefreshToken)
	} else {
		tokens = auth.StaticTokenSource(cfg.Auth.AccessToken)
	}

	client := api.NewClient(cfg.APIBaseURL, tokens)
	engine := syncengine.New(client, db.Factory(), cursor, syncengine.Config{
		BatchSize:         cfg.Sync.BatchSize,
		PullLimit:         cfg.Sync.PullLimit,
		BootstrapPageSize: cfg.Sync.BootstrapPageSize,
		WaitTimeout:       cfg.Sync.WaitTimeout.Std(),
		Coalesce:          cfg.Sync.Coalesce,
	}, log.Logger)

	if *once {
		report, err := engine.Sync(ctx)
		if err != nil {
			return err
		}
		log.Info().
			Str("mode", string(report.Mode)).
			Int("flushed", report.Flushed).
			Int("applied", report.Applied).
			Int64("cursor", report.Cursor).
			Msg("sync pass complete")
		return nil
	}

	var statusServer *http.Server
	if cfg.ListenAddr != "" {
		srv := &httpapi.Server{Engine: engine}
		statusServer = &http.Server{Addr: cfg.ListenAddr, Handler: srv.Routes()}
		go func() {
			log.Info().Str("addr", cfg.ListenAddr).Msg("status server listening")
			if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	runLoop(ctx, engine, cfg.Sync.Interval.Std())

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("status server shutdown error")
		}
	}
	return nil
}

// runLoop syncs immediately and then on every interval tick until the
// context is canceled.
func runLoop(ctx context.Context, engine *syncengine.Engine, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	syncOnce := func() {
		report, err := engine.Sync(ctx)
		if err != nil {
			var breakerErr syncengine.BreakerOpenError
			if errors.As(err, &breakerErr) {
				log.Warn().Dur("backoffRemaining", breakerErr.Remaining).Msg("sync declined: circuit breaker open")
				return
			}
			log.Error().Err(err).Msg("sync pass failed")
			return
		}
		log.Info().
			Str("mode", string(report.Mode)).
			Int("flushed", report.Flushed).
			Int("applied", report.Applied).
			Bool("stopped", report.Stopped).
			Msg("sync pass complete")
	}

	syncOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down sync loop...")
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}
