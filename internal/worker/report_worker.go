// Package worker turns queued report requests into archived monthly reports.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"allowance/internal/amqp"
	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/services"
	"allowance/internal/session"
	"allowance/internal/sheets"
)

// Archive stores generated reports and their export state. SaveReport
// reports whether the saved month still has to be exported.
type Archive interface {
	SaveReport(ctx context.Context, rep core.MonthlyReport) (bool, error)
	MarkExported(ctx context.Context, userID string, year, month int, sheetsRef string) error
	MarkExportFailed(ctx context.Context, userID string, year, month int) error
}

// ReportWorker handles report request messages from AMQP
type ReportWorker struct {
	src      services.CollectionReader
	archive  Archive
	exporter sheets.ReportExporter
	logger   *log.Logger
	now      func() time.Time
}

// NewReportWorker creates a worker. exporter may be nil, in which case
// reports are only archived.
func NewReportWorker(src services.CollectionReader, archive Archive, exporter sheets.ReportExporter, logger *log.Logger) *ReportWorker {
	return &ReportWorker{
		src:      src,
		archive:  archive,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
	}
}

// WithClock replaces the worker's time source.
func (w *ReportWorker) WithClock(now func() time.Time) *ReportWorker {
	w.now = now
	return w
}

// Handle generates, archives and exports the report a message asks for.
// Failures a retry cannot fix are wrapped with amqp.ErrPermanent.
func (w *ReportWorker) Handle(ctx context.Context, msg *amqp.ReportRequestMessage) error {
	now := w.now()
	logger := w.logger.With(
		log.FieldRequestID, msg.RequestID,
		log.FieldUserID, msg.UserID,
		log.FieldMonthKey, msg.MonthKey())
	logger.InfoContext(ctx, "Processing report request")

	if !core.IsReportAvailable(msg.Year, msg.Month, now) {
		return fmt.Errorf("%w: %s: %w", amqp.ErrPermanent, msg.MonthKey(), services.ErrReportNotAvailable)
	}

	sess := &session.Session{
		ID:    "report-" + msg.RequestID,
		Token: msg.AuthToken,
		User:  core.User{ID: msg.UserID, Name: msg.UserName},
	}
	c, err := services.LoadCollections(ctx, w.src, sess, msg.UserID)
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%w: %w", amqp.ErrPermanent, err)
		}
		return err
	}

	rep := core.MonthlyReport{
		RequestID:   msg.RequestID,
		UserID:      msg.UserID,
		UserName:    w.userName(ctx, logger, sess, msg),
		Year:        msg.Year,
		Month:       msg.Month,
		Totals:      core.AggregateMonth(c, msg.MonthKey()),
		GeneratedAt: now,
	}
	needsExport, err := w.archive.SaveReport(ctx, rep)
	if err != nil {
		return fmt.Errorf("archive report: %w", err)
	}

	logger.InfoContext(ctx, "Report generated",
		log.FieldOperation, log.OpAggregate,
		log.FieldGrandCents, rep.Totals.Grand.Cents)

	if !needsExport {
		logger.InfoContext(ctx, "Report already exported with these totals")
		return nil
	}
	w.export(ctx, logger, rep)
	return nil
}

// userName returns the name carried by the message, or looks it up when an
// administrator queued the request for someone else. A failed lookup leaves
// the name blank rather than failing the report.
func (w *ReportWorker) userName(ctx context.Context, logger *log.Logger, sess *session.Session, msg *amqp.ReportRequestMessage) string {
	if msg.UserName != "" {
		return msg.UserName
	}
	lister, ok := w.src.(records.UserLister)
	if !ok {
		return ""
	}
	users, err := lister.Users(ctx, sess)
	if err != nil {
		logger.WarnContext(ctx, "Failed to resolve user name", log.FieldError, err.Error())
		return ""
	}
	for _, u := range users {
		if u.ID == msg.UserID {
			return u.Name
		}
	}
	return ""
}

// export appends the report to the sheet. A failure is recorded and left to
// the export sweep; the request itself has succeeded once archived.
func (w *ReportWorker) export(ctx context.Context, logger *log.Logger, rep core.MonthlyReport) {
	if w.exporter == nil {
		return
	}
	ref, err := w.exporter.AppendReport(ctx, rep)
	if err != nil {
		logger.WarnContext(ctx, "Report export failed, will retry",
			log.FieldOperation, log.OpExport,
			log.FieldError, err.Error())
		if err := w.archive.MarkExportFailed(ctx, rep.UserID, rep.Year, rep.Month); err != nil {
			logger.ErrorContext(ctx, "Failed to record export attempt", log.FieldError, err.Error())
		}
		return
	}
	if err := w.archive.MarkExported(ctx, rep.UserID, rep.Year, rep.Month, ref); err != nil {
		logger.ErrorContext(ctx, "Failed to mark report exported",
			log.FieldSheetsRef, ref,
			log.FieldError, err.Error())
		return
	}
	logger.InfoContext(ctx, "Report exported", log.FieldSheetsRef, ref)
}

func permanent(err error) bool {
	return errors.Is(err, records.ErrUnauthorized) ||
		errors.Is(err, records.ErrUserNotFound) ||
		errors.Is(err, session.ErrSessionExpired) ||
		errors.Is(err, services.ErrForbidden)
}
