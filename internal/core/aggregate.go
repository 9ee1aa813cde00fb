// Package core provides the monthly allowance aggregation.
//
// Totals are bucketed by calendar month ("YYYY-MM" of the record date), never by
// rolling window. Every function here is pure: it reads the collections it is
// given and returns freshly built values without retaining references.
package core

import (
	"fmt"
	"sort"
	"time"
)

// MonthKey maps a date to its "YYYY-MM" bucket using the date's own year and month.
func MonthKey(d Date) string {
	return MonthKeyOf(d.Year(), int(d.Month()))
}

// MonthKeyOf formats a year and month as "YYYY-MM".
func MonthKeyOf(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// SumForMonth sums amount(r) over the records whose date falls in month.
// A zero amount counts as nothing; negative amounts pass through unchanged.
func SumForMonth[T any](records []T, month string, date func(T) Date, amount func(T) Money) Money {
	var total Money
	for _, r := range records {
		if MonthKey(date(r)) != month {
			continue
		}
		total = total.Add(amount(r))
	}
	return total
}

func checkinDate(c CheckinRecord) Date    { return c.Date }
func checkinAmount(c CheckinRecord) Money { return c.Allowance }
func claimDate(c TravelClaim) Date        { return c.Date }
func claimAmount(c TravelClaim) Money     { return c.Amount }
func miscDate(m MiscClaim) Date           { return m.Date }
func miscAmount(m MiscClaim) Money        { return m.Price }

// AggregateMonth computes the daily, travel and miscellaneous totals of month.
func AggregateMonth(c Collections, month string) MonthTotals {
	t := MonthTotals{
		Daily:  SumForMonth(c.Checkins, month, checkinDate, checkinAmount),
		Travel: SumForMonth(c.Claims, month, claimDate, claimAmount),
		Misc:   SumForMonth(c.Misc, month, miscDate, miscAmount),
	}
	t.Grand = t.Daily.Add(t.Travel).Add(t.Misc)
	return t
}

// TrailingMonths returns count consecutive months ending at ref's month, oldest first.
func TrailingMonths(ref time.Time, count int) []MonthRef {
	if count <= 0 {
		return nil
	}
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]MonthRef, count)
	for i := 0; i < count; i++ {
		// Day 1 never overflows when stepping months back.
		d := first.AddDate(0, -(count - 1 - i), 0)
		out[i] = MonthRefOf(d.Year(), int(d.Month()))
	}
	return out
}

// MonthRefOf describes a single month, labelled like "Mar 2024".
func MonthRefOf(year, month int) MonthRef {
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return MonthRef{
		Key:   MonthKeyOf(d.Year(), int(d.Month())),
		Label: d.Format("Jan 2006"),
		Year:  d.Year(),
		Month: int(d.Month()),
	}
}

// BuildMonthlySeries aggregates each of the trailing count months, oldest first.
func BuildMonthlySeries(c Collections, ref time.Time, count int) []MonthBucket {
	months := TrailingMonths(ref, count)
	out := make([]MonthBucket, len(months))
	for i, m := range months {
		out[i] = MonthBucket{MonthRef: m, MonthTotals: AggregateMonth(c, m.Key)}
	}
	return out
}

// IsReportAvailable reports whether (year, month) has fully elapsed as of ref,
// i.e. its last calendar day is strictly before ref's calendar day.
func IsReportAvailable(year, month int, ref time.Time) bool {
	ry, rm, _ := ref.Date()
	// The month is over once ref is on or after the first day of the next month.
	next := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if ry != next.Year() {
		return ry > next.Year()
	}
	return rm >= next.Month()
}

// LastCompletedMonth returns the month before ref's month.
func LastCompletedMonth(ref time.Time) (year, month int) {
	d := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return d.Year(), int(d.Month())
}

// ParseMonthKey splits a "YYYY-MM" key into year and month.
func ParseMonthKey(key string) (year, month int, err error) {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidMonth, key)
	}
	return t.Year(), int(t.Month()), nil
}

// GroupByMonth buckets every record by month, newest month first.
func GroupByMonth(c Collections) []MonthGroup {
	groups := map[string]*MonthGroup{}
	get := func(key string) *MonthGroup {
		g, ok := groups[key]
		if !ok {
			g = &MonthGroup{Key: key}
			groups[key] = g
		}
		return g
	}
	for _, r := range c.Checkins {
		g := get(MonthKey(r.Date))
		g.Checkins = append(g.Checkins, r)
	}
	for _, r := range c.Claims {
		g := get(MonthKey(r.Date))
		g.Claims = append(g.Claims, r)
	}
	for _, r := range c.Misc {
		g := get(MonthKey(r.Date))
		g.Misc = append(g.Misc, r)
	}

	out := make([]MonthGroup, 0, len(groups))
	for key, g := range groups {
		g.Totals = AggregateMonth(Collections{Checkins: g.Checkins, Claims: g.Claims, Misc: g.Misc}, key)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out
}

// MonthEntries flattens the records of month into a single list ordered by date.
// Records on the same date keep check-in, claim, misc order.
func MonthEntries(c Collections, month string, routeNames map[string]string) []Entry {
	var out []Entry
	for i := range c.Checkins {
		r := c.Checkins[i]
		if MonthKey(r.Date) != month {
			continue
		}
		out = append(out, Entry{Kind: EntryCheckin, Date: r.Date, Label: string(r.Condition), Amount: r.Allowance, Checkin: &r})
	}
	for i := range c.Claims {
		r := c.Claims[i]
		if MonthKey(r.Date) != month {
			continue
		}
		label := r.RouteID
		if name, ok := routeNames[r.RouteID]; ok {
			label = name
		}
		out = append(out, Entry{Kind: EntryClaim, Date: r.Date, Label: label, Amount: r.Amount, Claim: &r})
	}
	for i := range c.Misc {
		r := c.Misc[i]
		if MonthKey(r.Date) != month {
			continue
		}
		out = append(out, Entry{Kind: EntryMisc, Date: r.Date, Label: r.Name, Amount: r.Price, Misc: &r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out
}

// Recent returns the last n items, newest first.
func Recent[T any](items []T, n int) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if n > len(items) {
		n = len(items)
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= len(items)-n; i-- {
		out = append(out, items[i])
	}
	return out
}

// SummarizeDay computes the administrator's figures for day across user histories.
// A check-in counts once per user; travel claims of the day add to the allowance total.
func SummarizeDay(histories []History, day time.Time) DaySummary {
	y, m, d := day.Date()
	s := DaySummary{Date: NewDate(y, int(m), d)}
	for _, h := range histories {
		if c, ok := TodayCheckin(h.Checkins, day); ok {
			s.Checkins++
			s.Allowances = s.Allowances.Add(c.Allowance)
			if !c.HasCheckedOut() {
				s.PendingCheckouts++
			}
		}
		for _, cl := range h.Claims {
			if cl.Date.SameDay(day) {
				s.Allowances = s.Allowances.Add(cl.Amount)
			}
		}
	}
	return s
}
