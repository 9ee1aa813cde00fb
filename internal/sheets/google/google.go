package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"allowance/internal/core"
	"allowance/internal/log"
	ports "allowance/internal/sheets"
)

var ErrMissingCredentials = errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")

// Ensure interface conformance
var (
	_ ports.ReportExporter = (*Client)(nil)
	_ ports.ReportLister   = (*Client)(nil)
)

// Config selects the spreadsheet and how to authenticate against it.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Client appends archived monthly reports as rows of one sheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	logger        *log.Logger
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	c := newClient(svc, cfg, logger)
	c.logger.InfoContext(ctx, "Google Sheets exporter ready", "sheet", c.sheet)
	return c, nil
}

func newClient(svc *gsheet.Service, cfg Config, logger *log.Logger) *Client {
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = "Reports"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		sheet:         sheet,
		logger:        logger.WithComponent(log.ComponentSheets),
	}
}

// credentials resolves service account JSON: inline first, then a file,
// then the standard GOOGLE_APPLICATION_CREDENTIALS path.
func credentials(cfg Config) ([]byte, error) {
	if js := strings.TrimSpace(cfg.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, ErrMissingCredentials
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// AppendReport writes rep as one row and returns the A1 range it landed in.
func (c *Client) AppendReport(ctx context.Context, rep core.MonthlyReport) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	vr := &gsheet.ValueRange{Values: [][]any{reportRow(rep)}}
	rng := fmt.Sprintf("%s!A:H", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", c.sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Report row appended",
		log.FieldUserID, rep.UserID,
		log.FieldMonthKey, rep.MonthKey(),
		log.FieldSheetsRef, ref)
	return ref, nil
}

// ListReports reads back the rows exported for year/month.
func (c *Client) ListReports(ctx context.Context, year, month int) ([]core.MonthlyReport, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidMonth, month)
	}
	rng := fmt.Sprintf("%s!A:H", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseReportRows(resp.Values, core.MonthKeyOf(year, month)), nil
}

// reportRow lays out generated_at, user_id, user_name, month, daily, travel,
// misc and total. Amounts are written in rupees.
func reportRow(rep core.MonthlyReport) []any {
	t := rep.Totals
	return []any{
		rep.GeneratedAt.UTC().Format(time.RFC3339),
		rep.UserID,
		rep.UserName,
		rep.MonthKey(),
		t.Daily.Decimal().String(),
		t.Travel.Decimal().String(),
		t.Misc.Decimal().String(),
		t.Grand.Decimal().String(),
	}
}
