package sheets

import (
	"context"

	"allowance/internal/core"
)

// Ports for outbound adapters.
type (
	// ReportExporter writes an archived monthly report to an external sheet.
	ReportExporter interface {
		AppendReport(ctx context.Context, rep core.MonthlyReport) (rowRef string, err error)
	}

	// ReportLister reads back exported reports of one month.
	ReportLister interface {
		ListReports(ctx context.Context, year, month int) ([]core.MonthlyReport, error)
	}
)
