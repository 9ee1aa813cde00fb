package google

import "testing"

func TestParseReportRows(t *testing.T) {
	values := [][]interface{}{
		{"generated_at", "user_id", "user_name", "month", "daily", "travel", "misc", "total"},
		{"2024-04-01T08:00:00Z", "u1", "Asha", "2024-03", "1,234.50", "25", "₹40.00", "1299.5"},
		{"2024-04-01T08:00:00Z", "u2", "Ravi", "2024-02", "1", "0", "0", "1"},
		{"2024-04-01T08:00:00Z", "u3", "Short", "2024-03", "1"},
		{"not-a-date", "u4", "", "2024-03", 100, 0, 0, 100},
		{"", "", "", "2024-03", "1", "1", "1", "3"},
	}
	got := parseReportRows(values, "2024-03")
	if len(got) != 2 {
		t.Fatalf("expected 2 reports, got %d: %+v", len(got), got)
	}
	first := got[0]
	if first.UserID != "u1" || first.Year != 2024 || first.Month != 3 || !first.Exported {
		t.Fatalf("first = %+v", first)
	}
	if first.Totals.Daily.Cents != 123450 || first.Totals.Travel.Cents != 2500 || first.Totals.Misc.Cents != 4000 || first.Totals.Grand.Cents != 129950 {
		t.Fatalf("first totals = %+v", first.Totals)
	}
	if first.GeneratedAt.IsZero() {
		t.Fatalf("generated_at not parsed")
	}
	if got[1].UserID != "u4" || got[1].Totals.Grand.Cents != 10000 || !got[1].GeneratedAt.IsZero() {
		t.Fatalf("second = %+v", got[1])
	}

	if parseReportRows(values, "March") != nil {
		t.Fatalf("invalid month key should yield nothing")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in    string
		cents int64
		ok    bool
	}{
		{"12.5", 1250, true},
		{"₹1,000.00", 100000, true},
		{"", 0, false},
		{"-3", 0, false},
		{"n/a", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseAmount(tc.in)
		if ok != tc.ok || got.Cents != tc.cents {
			t.Errorf("%q: got %d %v, want %d %v", tc.in, got.Cents, ok, tc.cents, tc.ok)
		}
	}
}
