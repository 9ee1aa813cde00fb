package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"allowance/internal/core"
	"allowance/internal/log"
)

var ErrReportNotFound = errors.New("report not found")

// SaveReport archives a generated month and reports whether it still has to
// be exported. A second save for the same user and month replaces the totals;
// the export flag is only cleared when the totals actually changed, so a
// redelivered request for an exported month reports false.
func (r *SQLiteRepository) SaveReport(ctx context.Context, rep core.MonthlyReport) (bool, error) {
	t := rep.Totals
	var exported int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO monthly_reports (user_id, month_key, request_id, user_name, year, month,
			daily_cents, travel_cents, misc_cents, grand_cents, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, month_key) DO UPDATE SET
			exported = CASE
				WHEN daily_cents = excluded.daily_cents
					AND travel_cents = excluded.travel_cents
					AND misc_cents = excluded.misc_cents
				THEN exported ELSE 0 END,
			export_attempts = CASE
				WHEN daily_cents = excluded.daily_cents
					AND travel_cents = excluded.travel_cents
					AND misc_cents = excluded.misc_cents
				THEN export_attempts ELSE 0 END,
			request_id = excluded.request_id,
			user_name = excluded.user_name,
			daily_cents = excluded.daily_cents,
			travel_cents = excluded.travel_cents,
			misc_cents = excluded.misc_cents,
			grand_cents = excluded.grand_cents,
			generated_at = excluded.generated_at
		RETURNING exported`,
		rep.UserID, rep.MonthKey(), rep.RequestID, rep.UserName, rep.Year, rep.Month,
		t.Daily.Cents, t.Travel.Cents, t.Misc.Cents, t.Grand.Cents,
		rep.GeneratedAt.UTC().Format(time.RFC3339Nano)).Scan(&exported)
	if err != nil {
		return false, fmt.Errorf("save report: %w", err)
	}

	r.logger.InfoContext(ctx, "Monthly report archived",
		log.FieldUserID, rep.UserID,
		log.FieldMonthKey, rep.MonthKey(),
		log.FieldRequestID, rep.RequestID,
		log.FieldGrandCents, t.Grand.Cents)
	return exported == 0, nil
}

const reportColumns = `user_id, request_id, user_name, year, month,
	daily_cents, travel_cents, misc_cents, grand_cents, generated_at, exported, sheets_ref`

func scanReport(sc interface{ Scan(...any) error }) (core.MonthlyReport, error) {
	var (
		rep       core.MonthlyReport
		generated string
		exported  int
	)
	err := sc.Scan(&rep.UserID, &rep.RequestID, &rep.UserName, &rep.Year, &rep.Month,
		&rep.Totals.Daily.Cents, &rep.Totals.Travel.Cents, &rep.Totals.Misc.Cents, &rep.Totals.Grand.Cents,
		&generated, &exported, &rep.SheetsRef)
	if err != nil {
		return rep, err
	}
	rep.Exported = exported != 0
	if rep.GeneratedAt, err = time.Parse(time.RFC3339Nano, generated); err != nil {
		return rep, fmt.Errorf("parse generated_at: %w", err)
	}
	return rep, nil
}

func (r *SQLiteRepository) GetReport(ctx context.Context, userID string, year, month int) (core.MonthlyReport, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM monthly_reports WHERE user_id = ? AND month_key = ?`,
		userID, core.MonthKeyOf(year, month))
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlyReport{}, ErrReportNotFound
	}
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("get report: %w", err)
	}
	return rep, nil
}

// PendingExports lists archived reports not yet written to the export sink,
// oldest first. Reports that already failed maxAttempts times are left out.
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit, maxAttempts int) ([]core.MonthlyReport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM monthly_reports
		WHERE exported = 0 AND export_attempts < ?
		ORDER BY generated_at LIMIT ?`,
		maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending exports: %w", err)
	}
	defer rows.Close()

	var out []core.MonthlyReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) MarkExported(ctx context.Context, userID string, year, month int, sheetsRef string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE monthly_reports SET exported = 1, sheets_ref = ? WHERE user_id = ? AND month_key = ?`,
		sheetsRef, userID, core.MonthKeyOf(year, month))
	if err != nil {
		return fmt.Errorf("mark report exported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, userID string, year, month int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE monthly_reports SET export_attempts = export_attempts + 1 WHERE user_id = ? AND month_key = ?`,
		userID, core.MonthKeyOf(year, month))
	if err != nil {
		return fmt.Errorf("mark report export failed: %w", err)
	}
	r.logger.WarnContext(ctx, "Report export failed",
		log.FieldUserID, userID,
		log.FieldMonthKey, core.MonthKeyOf(year, month))
	return nil
}
