package google

import (
	"fmt"
	"strings"
	"time"

	"allowance/internal/core"
)

// parseReportRows converts a values matrix (as returned by Sheets API) into
// the reports of monthKey. Header and malformed rows are skipped.
func parseReportRows(values [][]interface{}, monthKey string) []core.MonthlyReport {
	year, month, err := core.ParseMonthKey(monthKey)
	if err != nil {
		return nil
	}
	var out []core.MonthlyReport
	for _, raw := range values {
		row := toStrings(raw)
		if safeGet(row, 3) != monthKey {
			continue
		}
		rep := core.MonthlyReport{
			UserID:   safeGet(row, 1),
			UserName: safeGet(row, 2),
			Year:     year,
			Month:    month,
			Exported: true,
		}
		if rep.UserID == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, safeGet(row, 0)); err == nil {
			rep.GeneratedAt = ts
		}
		var ok bool
		amounts := []*core.Money{&rep.Totals.Daily, &rep.Totals.Travel, &rep.Totals.Misc, &rep.Totals.Grand}
		for i, dst := range amounts {
			if *dst, ok = parseAmount(safeGet(row, 4+i)); !ok {
				break
			}
		}
		if !ok {
			continue
		}
		out = append(out, rep)
	}
	return out
}

// parseAmount reads a rupee cell, tolerating a currency sign and thousands
// separators as Sheets renders them.
func parseAmount(s string) (core.Money, bool) {
	s = strings.NewReplacer("₹", "", ",", "", " ", "").Replace(s)
	m, err := core.ParseAmount(s)
	if err != nil || s == "" {
		return core.Money{}, false
	}
	return m, true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
