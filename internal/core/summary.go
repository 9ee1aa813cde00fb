package core

import "time"

const (
	EntryCheckin EntryKind = "checkin"
	EntryClaim   EntryKind = "claim"
	EntryMisc    EntryKind = "misc"
)

type (
	// MonthTotals are the per-category sums for one calendar month.
	MonthTotals struct {
		Daily  Money
		Travel Money
		Misc   Money
		Grand  Money
	}

	// MonthRef identifies one calendar month of a trailing series.
	MonthRef struct {
		Key   string // YYYY-MM
		Label string // e.g. "Mar 2024"
		Year  int
		Month int // 1-12
	}

	// MonthBucket is a month of the series with its totals. It is derived on
	// demand and never stored by the aggregator.
	MonthBucket struct {
		MonthRef
		MonthTotals
	}

	// MonthGroup holds every record of one month, for history views.
	MonthGroup struct {
		Key      string
		Checkins []CheckinRecord
		Claims   []TravelClaim
		Misc     []MiscClaim
		Totals   MonthTotals
	}

	EntryKind string

	// Entry is a single record of any kind, flattened for a month listing.
	Entry struct {
		Kind    EntryKind
		Date    Date
		Label   string
		Amount  Money
		Checkin *CheckinRecord
		Claim   *TravelClaim
		Misc    *MiscClaim
	}

	// DaySummary are the administrator's figures for a single day.
	DaySummary struct {
		Date             Date
		Checkins         int
		Allowances       Money
		PendingCheckouts int
	}

	// MonthlyReport is an archived month bucket for one user.
	MonthlyReport struct {
		RequestID   string
		UserID      string
		UserName    string
		Year        int
		Month       int
		Totals      MonthTotals
		GeneratedAt time.Time
		Exported    bool
		SheetsRef   string
	}
)

// MonthKey returns the report's YYYY-MM key.
func (r MonthlyReport) MonthKey() string {
	return MonthKeyOf(r.Year, r.Month)
}
