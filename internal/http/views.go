package http

import (
	"time"

	"allowance/internal/core"
	"allowance/internal/services"
)

// JSON shapes of the API. Amounts carry integer paise next to the decimal
// and display forms so clients never do float arithmetic on money.
type (
	moneyView struct {
		Cents   int64  `json:"cents"`
		Value   string `json:"value"`
		Display string `json:"display"`
	}

	totalsView struct {
		Daily  moneyView `json:"daily"`
		Travel moneyView `json:"travel"`
		Misc   moneyView `json:"misc"`
		Grand  moneyView `json:"grand"`
	}

	monthView struct {
		Key   string `json:"key"`
		Label string `json:"label"`
		Year  int    `json:"year"`
		Month int    `json:"month"`
	}

	bucketView struct {
		Month  monthView  `json:"month"`
		Totals totalsView `json:"totals"`
	}

	checkinView struct {
		Date      string     `json:"date"`
		CheckIn   *time.Time `json:"checkIn,omitempty"`
		CheckOut  *time.Time `json:"checkOut,omitempty"`
		Allowance moneyView  `json:"allowance"`
		Condition string     `json:"condition,omitempty"`
	}

	claimView struct {
		Date        string    `json:"date"`
		RouteID     string    `json:"routeId"`
		StationType string    `json:"stationType,omitempty"`
		Amount      moneyView `json:"amount"`
	}

	miscView struct {
		ID            string    `json:"id,omitempty"`
		Date          string    `json:"date"`
		Name          string    `json:"name"`
		Price         moneyView `json:"price"`
		AttachmentRef string    `json:"attachmentRef,omitempty"`
		Status        string    `json:"status"`
	}

	entryView struct {
		Kind   string    `json:"kind"`
		Date   string    `json:"date"`
		Label  string    `json:"label"`
		Amount moneyView `json:"amount"`
	}

	userView struct {
		ID             string   `json:"id"`
		Name           string   `json:"name"`
		Email          string   `json:"email,omitempty"`
		RoleLevel      int      `json:"roleLevel"`
		Admin          bool     `json:"admin"`
		Headquarter    string   `json:"headquarter,omitempty"`
		AssignedRoutes []string `json:"assignedRoutes"`
	}

	availabilityView struct {
		Month     monthView `json:"month"`
		Available bool      `json:"available"`
	}

	dashboardView struct {
		Month          monthView     `json:"month"`
		Totals         totalsView    `json:"totals"`
		Series         []bucketView  `json:"series"`
		Today          string        `json:"today"`
		TodayCheckin   *checkinView  `json:"todayCheckin,omitempty"`
		RecentCheckins []checkinView `json:"recentCheckins"`
		RecentClaims   []claimView   `json:"recentClaims"`
		RecentMisc     []miscView    `json:"recentMisc"`
		RecentRoutes   []string      `json:"recentRoutes"`

		ExpectedAllowance *moneyView       `json:"expectedAllowance,omitempty"`
		AssignedRoutes    []routeClaimView `json:"assignedRoutes"`
	}

	routeClaimView struct {
		ID     string    `json:"id"`
		Name   string    `json:"name"`
		Amount moneyView `json:"amount"`
	}

	profileView struct {
		Month        monthView        `json:"month"`
		Totals       totalsView       `json:"totals"`
		Current      totalsView       `json:"current"`
		Series       []bucketView     `json:"series"`
		Entries      []entryView      `json:"entries"`
		RecentRoutes []string         `json:"recentRoutes"`
		Report       availabilityView `json:"report"`
	}

	monthGroupView struct {
		Key      string        `json:"key"`
		Totals   totalsView    `json:"totals"`
		Checkins []checkinView `json:"checkins"`
		Claims   []claimView   `json:"claims"`
		Misc     []miscView    `json:"misc"`
	}

	exportedReportView struct {
		RequestID   string     `json:"requestId,omitempty"`
		UserID      string     `json:"userId"`
		UserName    string     `json:"userName,omitempty"`
		Month       monthView  `json:"month"`
		Totals      totalsView `json:"totals"`
		GeneratedAt time.Time  `json:"generatedAt"`
	}

	daySummaryView struct {
		Date             string    `json:"date"`
		Checkins         int       `json:"checkins"`
		Allowances       moneyView `json:"allowances"`
		PendingCheckouts int       `json:"pendingCheckouts"`
	}
)

func newMoneyView(m core.Money) moneyView {
	return moneyView{Cents: m.Cents, Value: m.Decimal().StringFixed(2), Display: m.Format()}
}

func newTotalsView(t core.MonthTotals) totalsView {
	return totalsView{
		Daily:  newMoneyView(t.Daily),
		Travel: newMoneyView(t.Travel),
		Misc:   newMoneyView(t.Misc),
		Grand:  newMoneyView(t.Grand),
	}
}

func newMonthView(m core.MonthRef) monthView {
	return monthView{Key: m.Key, Label: m.Label, Year: m.Year, Month: m.Month}
}

func newSeriesView(buckets []core.MonthBucket) []bucketView {
	out := make([]bucketView, len(buckets))
	for i, b := range buckets {
		out[i] = bucketView{Month: newMonthView(b.MonthRef), Totals: newTotalsView(b.MonthTotals)}
	}
	return out
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newCheckinView(c core.CheckinRecord) checkinView {
	return checkinView{
		Date:      c.Date.String(),
		CheckIn:   optionalTime(c.CheckInTime),
		CheckOut:  optionalTime(c.CheckOutTime),
		Allowance: newMoneyView(c.Allowance),
		Condition: string(c.Condition),
	}
}

func newCheckinViews(cs []core.CheckinRecord) []checkinView {
	out := make([]checkinView, len(cs))
	for i, c := range cs {
		out[i] = newCheckinView(c)
	}
	return out
}

func newClaimViews(cs []core.TravelClaim) []claimView {
	out := make([]claimView, len(cs))
	for i, c := range cs {
		out[i] = claimView{
			Date:        c.Date.String(),
			RouteID:     c.RouteID,
			StationType: c.StationType,
			Amount:      newMoneyView(c.Amount),
		}
	}
	return out
}

func newMiscViews(ms []core.MiscClaim) []miscView {
	out := make([]miscView, len(ms))
	for i, m := range ms {
		out[i] = miscView{
			ID:            m.ID,
			Date:          m.Date.String(),
			Name:          m.Name,
			Price:         newMoneyView(m.Price),
			AttachmentRef: m.AttachmentRef,
			Status:        string(m.Status),
		}
	}
	return out
}

func newUserView(u core.User) userView {
	routes := u.AssignedRoutes
	if routes == nil {
		routes = []string{}
	}
	return userView{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		RoleLevel:      u.RoleLevel,
		Admin:          u.IsAdmin(),
		Headquarter:    u.Headquarter,
		AssignedRoutes: routes,
	}
}

func newAvailabilityView(a services.ReportAvailability) availabilityView {
	return availabilityView{Month: newMonthView(a.Month), Available: a.Available}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func newDashboardView(d services.Dashboard) dashboardView {
	v := dashboardView{
		Month:          newMonthView(d.Month),
		Totals:         newTotalsView(d.Totals),
		Series:         newSeriesView(d.Series),
		Today:          d.Today.String(),
		RecentCheckins: newCheckinViews(d.RecentCheckins),
		RecentClaims:   newClaimViews(d.RecentClaims),
		RecentMisc:     newMiscViews(d.RecentMisc),
		RecentRoutes:   nonNilStrings(d.RecentRoutes),
		AssignedRoutes: make([]routeClaimView, len(d.AssignedRoutes)),
	}
	if d.TodayCheckin != nil {
		c := newCheckinView(*d.TodayCheckin)
		v.TodayCheckin = &c
	}
	if d.ExpectedAllowance != nil {
		m := newMoneyView(*d.ExpectedAllowance)
		v.ExpectedAllowance = &m
	}
	for i, r := range d.AssignedRoutes {
		v.AssignedRoutes[i] = routeClaimView{ID: r.ID, Name: r.Name, Amount: newMoneyView(r.Amount)}
	}
	return v
}

func newProfileView(p services.Profile) profileView {
	entries := make([]entryView, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = entryView{
			Kind:   string(e.Kind),
			Date:   e.Date.String(),
			Label:  e.Label,
			Amount: newMoneyView(e.Amount),
		}
	}
	return profileView{
		Month:        newMonthView(p.Month),
		Totals:       newTotalsView(p.Totals),
		Current:      newTotalsView(p.Current),
		Series:       newSeriesView(p.Series),
		Entries:      entries,
		RecentRoutes: nonNilStrings(p.RecentRoutes),
		Report:       newAvailabilityView(p.Report),
	}
}

func newHistoryView(groups []core.MonthGroup) []monthGroupView {
	out := make([]monthGroupView, len(groups))
	for i, g := range groups {
		out[i] = monthGroupView{
			Key:      g.Key,
			Totals:   newTotalsView(g.Totals),
			Checkins: newCheckinViews(g.Checkins),
			Claims:   newClaimViews(g.Claims),
			Misc:     newMiscViews(g.Misc),
		}
	}
	return out
}

func newDaySummaryView(d core.DaySummary) daySummaryView {
	return daySummaryView{
		Date:             d.Date.String(),
		Checkins:         d.Checkins,
		Allowances:       newMoneyView(d.Allowances),
		PendingCheckouts: d.PendingCheckouts,
	}
}

func newExportedReportViews(reps []core.MonthlyReport) []exportedReportView {
	out := make([]exportedReportView, 0, len(reps))
	for _, r := range reps {
		out = append(out, exportedReportView{
			RequestID:   r.RequestID,
			UserID:      r.UserID,
			UserName:    r.UserName,
			Month:       newMonthView(core.MonthRefOf(r.Year, r.Month)),
			Totals:      newTotalsView(r.Totals),
			GeneratedAt: r.GeneratedAt,
		})
	}
	return out
}
