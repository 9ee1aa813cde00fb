package main

import (
	"context"
	"os"
	"time"

	"allowance/internal/amqp"
	"allowance/internal/cli"
	apphttp "allowance/internal/http"
	"allowance/internal/log"
	"allowance/internal/services"
	"allowance/internal/session"
	"allowance/internal/sheets"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	root, stop := context.WithCancel(context.Background())
	defer stop()

	result := cli.InitBackend(root, logger, cfg)

	// Report requests are optional: without a broker the API still serves
	// dashboards and answers 503 on report requests.
	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
			os.Exit(1)
		}
		publisher = amqpClient
	} else {
		logger.Warn("AMQP_URL not set - monthly report requests are disabled")
	}

	// The API only reads the export sheet; the worker writes it.
	var exported sheets.ReportLister
	exporter, err := cli.InitExporter(root, logger, cfg)
	if err != nil {
		logger.Warn("Report sheet unavailable", log.FieldError, err.Error())
	} else if l, ok := exporter.(sheets.ReportLister); ok {
		exported = l
	}

	sessions := session.NewStore(cfg.SessionMax, cfg.SessionTTL, logger)

	dcfg := services.DefaultDashboardConfig()
	dcfg.SeriesMonths = cfg.SeriesMonths
	dashboard := services.NewDashboardService(result.Source, dcfg, logger)

	janitor := cli.StartJanitor(logger, 5*time.Minute, sessions.Cleaner(), dashboard.RouteCache())

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		SeriesMonths:       cfg.SeriesMonths,
	}, apphttp.Deps{
		Auth:      result.Source,
		Sessions:  sessions,
		Dashboard: dashboard,
		Admin:     services.NewAdminService(result.Source, cfg.FanOutLimit, logger),
		Reports:   services.NewReportService(publisher, logger),
		Exported:  exported,
		Ready:     result.Ready,
	}, logger)

	ctx, done := cli.GracefulShutdown(root, logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		janitor.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err.Error())
			}
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", log.FieldError, err.Error())
			}
		}
	})

	logger.Info("Starting allowance server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		stop()
		<-done
		os.Exit(1)
	}

	<-ctx.Done()
	<-done
	logger.Info("Server stopped gracefully")
}
