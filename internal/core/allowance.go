package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	NotCheckedIn CheckinState = iota
	CheckedIn
	CheckedOut
)

// CheckinState is where a user stands in today's check-in/check-out cycle.
type CheckinState int

func (s CheckinState) String() string {
	switch s {
	case CheckedIn:
		return "checked_in"
	case CheckedOut:
		return "checked_out"
	default:
		return "not_checked_in"
	}
}

// Rate returns the daily allowance rate for a station condition.
func (r AllowanceRates) Rate(c Condition) (Money, error) {
	switch c {
	case Headquarter:
		return r.Headquarter, nil
	case ExStation:
		return r.ExStation, nil
	case OutStation:
		return r.OutStation, nil
	}
	return Money{}, fmt.Errorf("%w: %q", ErrInvalidCondition, c)
}

// TravelAmount is the claim amount for a route: distance times the per-km rate,
// rounded half away from zero to the paisa.
func TravelAmount(route Route, rates AllowanceRates) Money {
	km := decimal.NewFromFloat(route.DistanceKm)
	return Money{Cents: km.Mul(decimal.NewFromInt(rates.TravelPerKm.Cents)).Round(0).IntPart()}
}

// TodayCheckin finds the check-in recorded on day's calendar date.
func TodayCheckin(checkins []CheckinRecord, day time.Time) (CheckinRecord, bool) {
	for _, c := range checkins {
		if c.Date.SameDay(day) {
			return c, true
		}
	}
	return CheckinRecord{}, false
}

// CheckinStateFor tells which action is open to the user on day.
func CheckinStateFor(checkins []CheckinRecord, day time.Time) CheckinState {
	c, ok := TodayCheckin(checkins, day)
	switch {
	case !ok:
		return NotCheckedIn
	case c.HasCheckedOut():
		return CheckedOut
	default:
		return CheckedIn
	}
}
