package main

import (
	"context"
	"errors"
	"os"
	"time"

	"allowance/internal/amqp"
	"allowance/internal/cli"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/services"
	"allowance/internal/storage"
	"allowance/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting allowance-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	root, stop := context.WithCancel(context.Background())
	defer stop()

	result := cli.InitBackend(root, logger, cfg)

	// The archive always lives in SQLite, whatever backend serves the records.
	archive, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, records.NewLocalAuth(cfg.LocalAuthSecret, cfg.SessionTTL), logger)
	if err != nil {
		logger.Error("Failed to initialize report archive", log.FieldError, err.Error(), "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}

	exporter, err := cli.InitExporter(root, logger, cfg)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err.Error())
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}

	reportWorker := worker.NewReportWorker(result.Source, archive, exporter, logger)

	var processor *services.ExportProcessor
	if exporter != nil {
		pcfg := services.DefaultExportProcessorConfig()
		pcfg.PollInterval = cfg.ReportSweepInterval
		processor = services.NewExportProcessor(archive, exporter, pcfg, logger)
	}

	ctx, done := cli.GracefulShutdown(root, logger, 30*time.Second, func(ctx context.Context) {
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Warn("Export processor stop error", log.FieldError, err.Error())
			}
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err.Error())
		}
		if err := archive.Close(); err != nil {
			logger.Warn("Archive close error", log.FieldError, err.Error())
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", log.FieldError, err.Error())
			}
		}
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start export processor", log.FieldError, err.Error())
			stop()
			<-done
			os.Exit(1)
		}
	}

	go func() {
		err := amqpClient.ConsumeReportRequests(ctx, reportWorker.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Report consumption failed", log.FieldError, err.Error(), log.FieldOperation, log.OpConsume)
		}
		stop()
	}()

	<-ctx.Done()
	<-done
	logger.Info("Worker stopped")
}
