package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/sheets"
)

// ReportArchive is the storage side of report exports.
type ReportArchive interface {
	PendingExports(ctx context.Context, limit, maxAttempts int) ([]core.MonthlyReport, error)
	MarkExported(ctx context.Context, userID string, year, month int, sheetsRef string) error
	MarkExportFailed(ctx context.Context, userID string, year, month int) error
}

type ExportProcessorConfig struct {
	// PollInterval is how often archived reports are checked (default: 10m)
	PollInterval time.Duration

	// BatchSize is the max number of reports exported per sweep (default: 20)
	BatchSize int

	// MaxAttempts is how often a report may fail before it is skipped (default: 5)
	MaxAttempts int
}

func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval: 10 * time.Minute,
		BatchSize:    20,
		MaxAttempts:  5,
	}
}

// ExportProcessor retries sheet exports of archived reports that the worker
// could not export when they were generated.
type ExportProcessor struct {
	archive  ReportArchive
	exporter sheets.ReportExporter
	config   ExportProcessorConfig
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(archive ReportArchive, exporter sheets.ReportExporter, config ExportProcessorConfig, logger *log.Logger) *ExportProcessor {
	def := DefaultExportProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	return &ExportProcessor{
		archive:  archive,
		exporter: exporter,
		config:   config,
		logger:   logger.WithComponent(log.ComponentSheets),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
		p.logger.InfoContext(ctx, "Export processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.Sweep(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep exports one batch of pending reports and returns how many succeeded.
func (p *ExportProcessor) Sweep(ctx context.Context) int {
	pending, err := p.archive.PendingExports(ctx, p.config.BatchSize, p.config.MaxAttempts)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list pending exports", log.FieldError, err.Error())
		return 0
	}
	if len(pending) == 0 {
		return 0
	}
	p.logger.DebugContext(ctx, "Exporting pending reports", log.FieldRecordCount, len(pending))

	exported := 0
	for _, rep := range pending {
		if ctx.Err() != nil {
			return exported
		}
		if err := p.export(ctx, rep); err != nil {
			p.logger.WarnContext(ctx, "Report export failed",
				log.FieldUserID, rep.UserID,
				log.FieldMonthKey, rep.MonthKey(),
				log.FieldOperation, log.OpExport,
				log.FieldError, err.Error())
			if err := p.archive.MarkExportFailed(ctx, rep.UserID, rep.Year, rep.Month); err != nil {
				p.logger.ErrorContext(ctx, "Failed to record export attempt",
					log.FieldUserID, rep.UserID, log.FieldError, err.Error())
			}
			continue
		}
		exported++
	}
	return exported
}

func (p *ExportProcessor) export(ctx context.Context, rep core.MonthlyReport) error {
	ref, err := p.exporter.AppendReport(ctx, rep)
	if err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	if err := p.archive.MarkExported(ctx, rep.UserID, rep.Year, rep.Month, ref); err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	p.logger.InfoContext(ctx, "Report exported",
		log.FieldUserID, rep.UserID,
		log.FieldMonthKey, rep.MonthKey(),
		log.FieldSheetsRef, ref)
	return nil
}
