package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Headquarter Condition = "headquarter"
	ExStation   Condition = "exStation"
	OutStation  Condition = "outStation"
)

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

// AdminRoleLevel is the role tier with access to every screen and action.
const AdminRoleLevel = 1

type (
	// Condition is the station condition a daily check-in was made under.
	Condition string

	ClaimStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	CheckinRecord struct {
		Date         Date
		CheckInTime  time.Time // zero when absent
		CheckOutTime time.Time // zero when absent
		Allowance    Money
		Condition    Condition
	}

	TravelClaim struct {
		Date        Date
		RouteID     string
		StationType string
		Amount      Money
	}

	MiscClaim struct {
		ID            string
		Date          Date
		Name          string
		Price         Money
		AttachmentRef string
		Status        ClaimStatus
	}

	// History is what the upstream API returns for a user's allowance history.
	History struct {
		Checkins []CheckinRecord
		Claims   []TravelClaim
	}

	// Collections holds the three record sets the aggregator works on.
	Collections struct {
		Checkins []CheckinRecord
		Claims   []TravelClaim
		Misc     []MiscClaim
	}

	Route struct {
		ID          string
		Headquarter string
		From        string
		To          string
		DistanceKm  float64
	}

	AllowanceRates struct {
		Headquarter Money
		ExStation   Money
		OutStation  Money
		TravelPerKm Money
	}

	User struct {
		ID             string
		Name           string
		Email          string
		RoleLevel      int
		Headquarter    string
		AssignedRoutes []string
		Rates          AllowanceRates
	}
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrNegativeAmount   = errors.New("negative amount")
	ErrInvalidCondition = errors.New("invalid allowance condition")
	ErrInvalidStatus    = errors.New("invalid claim status")
	ErrEmptyRoute       = errors.New("empty route id")
	ErrEmptyName        = errors.New("empty name")
	ErrInvalidMonth     = errors.New("invalid month")
)

// ParseDate reads the calendar date prefix ("YYYY-MM-DD") of an ISO-8601 string.
// Any time-of-day or offset that follows is ignored, so the date keeps the
// calendar day it was written with.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.Parse("2006-01-02", s[:10])
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDate)
	}
	return nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// SameDay reports whether d falls on t's calendar day, using t's own location.
func (d Date) SameDay(t time.Time) bool {
	y, m, day := t.Date()
	return d.Year() == y && d.Month() == m && d.Day() == day
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func (c Condition) Valid() bool {
	switch c {
	case Headquarter, ExStation, OutStation:
		return true
	}
	return false
}

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimApproved, ClaimRejected:
		return true
	}
	return false
}

func (c CheckinRecord) Validate() error {
	if err := c.Date.Validate(); err != nil {
		return err
	}
	if err := c.Allowance.Validate(); err != nil {
		return fmt.Errorf("allowance: %w", err)
	}
	if c.Condition != "" && !c.Condition.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCondition, c.Condition)
	}
	if !c.CheckOutTime.IsZero() && !c.CheckInTime.IsZero() && c.CheckOutTime.Before(c.CheckInTime) {
		return errors.New("check-out before check-in")
	}
	return nil
}

// HasCheckedIn reports whether the record carries a check-in time.
func (c CheckinRecord) HasCheckedIn() bool {
	return !c.CheckInTime.IsZero()
}

// HasCheckedOut reports whether the record carries a check-out time.
func (c CheckinRecord) HasCheckedOut() bool {
	return !c.CheckOutTime.IsZero()
}

func (t TravelClaim) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.RouteID) == "" {
		return ErrEmptyRoute
	}
	if err := t.Amount.Validate(); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	return nil
}

func (m MiscClaim) Validate() error {
	if err := m.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.Name) == "" {
		return ErrEmptyName
	}
	if len(m.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if err := m.Price.Validate(); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	if m.Status != "" && !m.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, m.Status)
	}
	return nil
}

// Name returns the "From - To" label shown for a route.
func (r Route) Name() string {
	return r.From + " - " + r.To
}

// IsAdmin reports whether the user holds the administrator role level.
func (u User) IsAdmin() bool {
	return u.RoleLevel == AdminRoleLevel
}

// IsAssigned reports whether the route is in the user's assigned routes.
func (u User) IsAssigned(routeID string) bool {
	for _, id := range u.AssignedRoutes {
		if id == routeID {
			return true
		}
	}
	return false
}
