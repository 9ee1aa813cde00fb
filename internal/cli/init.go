// Package cli provides the startup and shutdown steps shared by
// cmd/allowance and cmd/allowance-worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"allowance/internal/backend"
	"allowance/internal/cache"
	"allowance/internal/config"
	"allowance/internal/log"
	"allowance/internal/sheets"
	gsheet "allowance/internal/sheets/google"
)

// LoadEnvFile loads the .env file for local development.
// A missing file is ignored; in production the environment is already set.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger creates the process logger at LOG_LEVEL, read straight from
// the environment so it is available before the config is parsed.
func SetupLogger(component string) *log.Logger {
	return log.New(log.Config{
		Level:     log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Component: component,
	})
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err.Error())
		os.Exit(1)
	}
	return cfg
}

// InitBackend builds the record source selected by DATA_BACKEND.
// Exits the process on failure.
func InitBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err.Error())
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize record backend",
			log.FieldError, err.Error(),
			"backend", cfg.DataBackend)
		os.Exit(1)
	}
	return result
}

// InitExporter connects to Google Sheets when a spreadsheet is configured.
// It returns a nil exporter, not an error, when export is disabled.
func InitExporter(ctx context.Context, logger *log.Logger, cfg *config.Config) (sheets.ReportExporter, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
		return nil, nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleReportSheet,
		CredentialsJSON: cfg.GoogleCredentials,
		CredentialsFile: cfg.GoogleCredsFile,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init google sheets: %w", err)
	}
	logger.Info("Google Sheets exporter initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleReportSheet)
	return client, nil
}

// StartJanitor sweeps the given caches every interval until Stop.
func StartJanitor(logger *log.Logger, interval time.Duration, cleaners ...cache.Cleaner) *cache.Janitor {
	j := cache.NewJanitor(logger)
	for _, c := range cleaners {
		j.Register(c)
	}
	j.Start(interval)
	return j
}

// GracefulShutdown returns a context that is cancelled on SIGINT, SIGTERM or
// cancellation of parent. cleanup then runs with a context bounded by
// timeout, and done is closed once it returns or the timeout passes.
func GracefulShutdown(parent context.Context, logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
		case <-ctx.Done():
			logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
	}()

	return ctx, done
}
