package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"allowance/internal/core"
)

var march5 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newDashboard(src DashboardSource) *DashboardService {
	return NewDashboardService(src, DefaultDashboardConfig(), testLogger())
}

func TestUserDashboard(t *testing.T) {
	src := marchRecords()
	svc := newDashboard(src)

	d, err := svc.UserDashboard(context.Background(), userSession("u1"), "u1", march5)
	if err != nil {
		t.Fatalf("UserDashboard: %v", err)
	}
	if d.Month.Key != "2024-03" || d.Month.Label != "Mar 2024" {
		t.Fatalf("month = %+v", d.Month)
	}
	want := core.MonthTotals{
		Daily:  core.Money{Cents: 20000},
		Travel: core.Money{Cents: 2500},
		Misc:   core.Money{Cents: 4000},
		Grand:  core.Money{Cents: 26500},
	}
	if d.Totals != want {
		t.Fatalf("totals = %+v, want %+v", d.Totals, want)
	}
	if len(d.Series) != 12 || d.Series[11].Key != "2024-03" || d.Series[10].Daily.Cents != 30000 {
		t.Fatalf("series = %+v", d.Series)
	}
	if d.Today != core.NotCheckedIn || d.TodayCheckin != nil {
		t.Fatalf("today = %s %+v", d.Today, d.TodayCheckin)
	}
	if len(d.RecentRoutes) != 1 || d.RecentRoutes[0] != "Pune - Nashik" {
		t.Fatalf("recent routes = %v", d.RecentRoutes)
	}
	if len(d.RecentCheckins) != 2 || d.RecentCheckins[0].Date.String() != "2024-02-28" {
		t.Fatalf("recent checkins = %+v", d.RecentCheckins)
	}

	if _, err := svc.UserDashboard(context.Background(), userSession("u1"), "u1", march5); err != nil {
		t.Fatalf("second UserDashboard: %v", err)
	}
	if n := src.routeCalls.Load(); n != 1 {
		t.Fatalf("routes fetched %d times, want 1 (cached)", n)
	}
}

func TestUserDashboard_TodayCheckin(t *testing.T) {
	src := marchRecords()
	in := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	h := src.histories["u1"]
	h.Checkins[0].CheckInTime = in
	src.histories["u1"] = h

	day := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	d, err := newDashboard(src).UserDashboard(context.Background(), userSession("u1"), "u1", day)
	if err != nil {
		t.Fatalf("UserDashboard: %v", err)
	}
	if d.Today != core.CheckedIn || d.TodayCheckin == nil || !d.TodayCheckin.CheckInTime.Equal(in) {
		t.Fatalf("today = %s %+v", d.Today, d.TodayCheckin)
	}
}

func TestUserDashboard_RatesAndRoutes(t *testing.T) {
	rates := core.AllowanceRates{Headquarter: core.Money{Cents: 20000}, TravelPerKm: core.Money{Cents: 250}}
	day := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

	src := marchRecords()
	src.routes = append(src.routes, core.Route{ID: "r2", From: "Pune", To: "Satara", DistanceKm: 112.5})
	src.users = []core.User{{ID: "u1", AssignedRoutes: []string{"r1"}, Rates: rates}}
	svc := newDashboard(src)

	sess := userSession("u1")
	sess.User.AssignedRoutes = []string{"r2", "gone", "r1"}
	sess.User.Rates = rates
	d, err := svc.UserDashboard(context.Background(), sess, "u1", day)
	if err != nil {
		t.Fatalf("UserDashboard: %v", err)
	}
	if d.ExpectedAllowance == nil || d.ExpectedAllowance.Cents != 20000 {
		t.Fatalf("expected allowance = %+v", d.ExpectedAllowance)
	}
	want := []RouteClaim{
		{ID: "r2", Name: "Pune - Satara", Amount: core.Money{Cents: 28125}},
		{ID: "r1", Name: "Pune - Nashik", Amount: core.Money{Cents: 2500}},
	}
	if len(d.AssignedRoutes) != len(want) {
		t.Fatalf("assigned routes = %+v", d.AssignedRoutes)
	}
	for i := range want {
		if d.AssignedRoutes[i] != want[i] {
			t.Fatalf("assigned route %d = %+v, want %+v", i, d.AssignedRoutes[i], want[i])
		}
	}

	// An administrator sees the user's own rates and assignments.
	d, err = svc.UserDashboard(context.Background(), adminSession(), "u1", day)
	if err != nil {
		t.Fatalf("admin UserDashboard: %v", err)
	}
	if d.ExpectedAllowance == nil || len(d.AssignedRoutes) != 1 || d.AssignedRoutes[0].ID != "r1" {
		t.Fatalf("admin view = %+v %+v", d.ExpectedAllowance, d.AssignedRoutes)
	}

	// Before checking in there is nothing to expect yet.
	d, err = svc.UserDashboard(context.Background(), sess, "u1", march5)
	if err != nil {
		t.Fatalf("UserDashboard: %v", err)
	}
	if d.ExpectedAllowance != nil {
		t.Fatalf("expected allowance before check-in = %+v", d.ExpectedAllowance)
	}

	src.users = nil
	d, err = svc.UserDashboard(context.Background(), adminSession(), "u1", day)
	if err != nil {
		t.Fatalf("admin UserDashboard: %v", err)
	}
	if d.ExpectedAllowance != nil || len(d.AssignedRoutes) != 0 {
		t.Fatalf("unknown user should have no rates: %+v %+v", d.ExpectedAllowance, d.AssignedRoutes)
	}
}

func TestUserDashboard_Errors(t *testing.T) {
	svc := newDashboard(marchRecords())
	if _, err := svc.UserDashboard(context.Background(), userSession("u2"), "u1", march5); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	boom := errors.New("upstream down")
	src := marchRecords()
	src.routesErr = boom
	if _, err := newDashboard(src).UserDashboard(context.Background(), userSession("u1"), "u1", march5); !errors.Is(err, boom) {
		t.Fatalf("expected route error, got %v", err)
	}
}

func TestProfile(t *testing.T) {
	svc := newDashboard(marchRecords())
	ctx := context.Background()

	p, err := svc.Profile(ctx, userSession("u1"), "u1", "", march5)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Month.Key != "2024-02" || p.Totals.Daily.Cents != 30000 || p.Totals.Grand.Cents != 30000 {
		t.Fatalf("default month = %+v totals %+v", p.Month, p.Totals)
	}
	if p.Current.Grand.Cents != 26500 {
		t.Fatalf("current = %+v", p.Current)
	}
	if !p.Report.Available || p.Report.Month.Key != "2024-02" {
		t.Fatalf("report = %+v", p.Report)
	}
	if len(p.Series) != 6 {
		t.Fatalf("series len = %d", len(p.Series))
	}

	p, err = svc.Profile(ctx, userSession("u1"), "u1", "2024-03", march5)
	if err != nil {
		t.Fatalf("Profile 2024-03: %v", err)
	}
	if p.Report.Available {
		t.Fatalf("current month report must not be available")
	}
	if len(p.Entries) != 3 || p.Entries[1].Label != "Pune - Nashik" {
		t.Fatalf("entries = %+v", p.Entries)
	}

	if _, err := svc.Profile(ctx, userSession("u1"), "u1", "March", march5); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestHistoryAndSeries(t *testing.T) {
	svc := newDashboard(marchRecords())
	ctx := context.Background()

	groups, err := svc.History(ctx, adminSession(), "u1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(groups) != 2 || groups[0].Key != "2024-03" || groups[1].Key != "2024-02" {
		t.Fatalf("groups = %+v", groups)
	}

	series, err := svc.Series(ctx, userSession("u1"), "u1", 3, march5)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(series) != 3 || series[0].Key != "2024-01" || series[1].Key != "2024-02" || series[2].Key != "2024-03" {
		t.Fatalf("series = %+v", series)
	}

	for _, n := range []int{0, 25} {
		if _, err := svc.Series(ctx, userSession("u1"), "u1", n, march5); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("months=%d: expected ErrInvalidArgument, got %v", n, err)
		}
	}
	if _, err := svc.Series(ctx, userSession("u2"), "u1", 3, march5); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
