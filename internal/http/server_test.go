package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"allowance/internal/amqp"
	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/records/memory"
	"allowance/internal/services"
	"allowance/internal/session"
	sheetsmem "allowance/internal/sheets/memory"
)

var march5 = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ReportRequestMessage
	err  error
}

func (p *fakePublisher) PublishReportRequest(_ context.Context, msg *amqp.ReportRequestMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type testEnv struct {
	srv   *Server
	clock *testClock
	pub   *fakePublisher
	sheet *sheetsmem.Store
	ready error
}

type envOption func(*Config, *testEnv)

func withRateLimit(n int) envOption {
	return func(c *Config, _ *testEnv) { c.RateLimitPerMinute = n }
}

func withoutPublisher() envOption {
	return func(_ *Config, e *testEnv) { e.pub = nil }
}

func withoutExport() envOption {
	return func(_ *Config, e *testEnv) { e.sheet = nil }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})

	env := &testEnv{clock: &testClock{now: march5}, pub: &fakePublisher{}, sheet: sheetsmem.New()}
	cfg := Config{Addr: ":0", RateLimitPerMinute: 100, SeriesMonths: 6}
	for _, opt := range opts {
		opt(&cfg, env)
	}

	auth := records.NewLocalAuth("test-secret-0123456789", 24*time.Hour).
		WithCost(bcrypt.MinCost).
		WithClock(env.clock.Now)
	store := memory.New(auth)
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(store.SeedRoute(ctx, core.Route{ID: "r1", From: "Pune", To: "Nashik", DistanceKm: 10}))
	must(store.SeedUser(ctx, core.User{
		ID: "u1", Name: "Asha", Email: "asha@example.com", RoleLevel: 2,
		AssignedRoutes: []string{"r1"},
		Rates:          core.AllowanceRates{ExStation: core.Money{Cents: 20000}, TravelPerKm: core.Money{Cents: 250}},
	}, hash))
	must(store.SeedUser(ctx, core.User{ID: "u2", Name: "Ravi", Email: "ravi@example.com", RoleLevel: 2}, hash))
	must(store.SeedUser(ctx, core.User{ID: "admin", Name: "Admin", Email: "admin@example.com", RoleLevel: core.AdminRoleLevel}, hash))
	must(store.SeedCheckin(ctx, "u1", core.CheckinRecord{
		Date: core.NewDate(2024, 2, 10), Allowance: core.Money{Cents: 30000}, Condition: core.OutStation,
	}))
	must(store.SeedCheckin(ctx, "u1", core.CheckinRecord{
		Date:        core.NewDate(2024, 3, 5),
		CheckInTime: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC),
		Allowance:   core.Money{Cents: 20000},
		Condition:   core.ExStation,
	}))
	must(store.SeedClaim(ctx, "u1", core.TravelClaim{Date: core.NewDate(2024, 3, 4), RouteID: "r1", Amount: core.Money{Cents: 2500}}))
	must(store.SeedMisc(ctx, "u1", core.MiscClaim{Date: core.NewDate(2024, 3, 1), Name: "Parking", Price: core.Money{Cents: 4000}, Status: core.ClaimApproved}))

	sessions := session.NewStore(100, 12*time.Hour, logger).WithClock(env.clock.Now)
	var pub services.Publisher
	if env.pub != nil {
		pub = env.pub
	}

	deps := Deps{
		Auth:      store,
		Sessions:  sessions,
		Dashboard: services.NewDashboardService(store, services.DefaultDashboardConfig(), logger),
		Admin:     services.NewAdminService(store, 2, logger),
		Reports:   services.NewReportService(pub, logger),
		Ready:     func(context.Context) error { return env.ready },
	}
	if env.sheet != nil {
		deps.Exported = env.sheet
	}
	env.srv = NewServer(cfg, deps, logger).WithClock(env.clock.Now)
	t.Cleanup(func() { _ = env.srv.Shutdown(context.Background()) })
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

// login signs in and returns the session cookie.
func (e *testEnv) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/login", `{"email":"`+email+`","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status=%d body=%s", email, rec.Code, rec.Body)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("login %s: no session cookie", email)
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics body missing counters: %s", rec.Body)
	}

	env.ready = errors.New("upstream down")
	rec = env.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing source status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream down") {
		t.Fatalf("readyz body = %s", rec.Body)
	}
}

func TestResponsesCarryTraceAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "client-abc")
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-abc" {
		t.Fatalf("X-Request-ID = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"email":`, http.StatusBadRequest},
		{"unknown field", `{"email":"asha@example.com","password":"s3cret","admin":true}`, http.StatusBadRequest},
		{"missing password", `{"email":"asha@example.com"}`, http.StatusUnprocessableEntity},
		{"wrong password", `{"email":"asha@example.com","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"email":"who@example.com","password":"s3cret"}`, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/login", tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tc.want, rec.Body)
			}
			if eb := decode[errorBody](t, rec); eb.Error == "" {
				t.Fatal("error body without message")
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/auth/login", `{"email":" ASHA@example.com ","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status=%d body=%s", rec.Code, rec.Body)
	}
	resp := decode[loginResponse](t, rec)
	if resp.User.ID != "u1" || resp.User.Admin || resp.SessionID == "" {
		t.Fatalf("login response = %+v", resp)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/me", "/api/me/dashboard", "/api/users/u1/series", "/api/admin/today"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}
	rec := env.do(t, http.MethodGet, "/api/me", "", &http.Cookie{Name: sessionCookieName, Value: "forged"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged session status=%d", rec.Code)
	}
}

func TestBearerSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/auth/login", `{"email":"asha@example.com","password":"s3cret"}`, nil)
	id := decode[loginResponse](t, rec).SessionID

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+id)
	rec = httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "asha@example.com")

	rec := env.do(t, http.MethodGet, "/api/me/dashboard", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	d := decode[dashboardView](t, rec)
	if d.Month.Key != "2024-03" {
		t.Fatalf("month = %+v", d.Month)
	}
	// 200.00 daily + 25.00 travel + 40.00 misc
	if d.Totals.Grand.Cents != 26500 || d.Totals.Grand.Value != "265.00" {
		t.Fatalf("grand = %+v", d.Totals.Grand)
	}
	if d.Totals.Daily.Cents != 20000 || d.Totals.Travel.Cents != 2500 || d.Totals.Misc.Cents != 4000 {
		t.Fatalf("totals = %+v", d.Totals)
	}
	if len(d.Series) != 12 {
		t.Fatalf("series length = %d", len(d.Series))
	}
	if d.Today != "checked_in" || d.TodayCheckin == nil || d.TodayCheckin.CheckOut != nil {
		t.Fatalf("today = %q %+v", d.Today, d.TodayCheckin)
	}
	if len(d.RecentRoutes) != 1 || d.RecentRoutes[0] != "Pune - Nashik" {
		t.Fatalf("recent routes = %v", d.RecentRoutes)
	}
	// Checked in ex-station today at a 200.00 rate; r1 is 10 km at 2.50/km.
	if d.ExpectedAllowance == nil || d.ExpectedAllowance.Cents != 20000 {
		t.Fatalf("expected allowance = %+v", d.ExpectedAllowance)
	}
	if len(d.AssignedRoutes) != 1 || d.AssignedRoutes[0].Name != "Pune - Nashik" || d.AssignedRoutes[0].Amount.Value != "25.00" {
		t.Fatalf("assigned routes = %+v", d.AssignedRoutes)
	}
}

func TestUserScopedRoutes(t *testing.T) {
	env := newTestEnv(t)
	user := env.login(t, "ravi@example.com")
	admin := env.login(t, "admin@example.com")

	cases := []struct {
		name   string
		path   string
		cookie *http.Cookie
		want   int
	}{
		{"own records", "/api/users/u2/history", user, http.StatusOK},
		{"someone else", "/api/users/u1/dashboard", user, http.StatusForbidden},
		{"admin reads anyone", "/api/users/u1/dashboard", admin, http.StatusOK},
		{"unknown user", "/api/users/ghost/history", admin, http.StatusNotFound},
		{"admin only", "/api/admin/today", user, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodGet, tc.path, "", tc.cookie); rec.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestSeries(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "asha@example.com")

	rec := env.do(t, http.MethodGet, "/api/me/series?months=2", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	series := decode[[]bucketView](t, rec)
	if len(series) != 2 || series[0].Month.Key != "2024-02" || series[1].Month.Key != "2024-03" {
		t.Fatalf("series = %+v", series)
	}
	if series[0].Totals.Grand.Cents != 30000 {
		t.Fatalf("february grand = %d", series[0].Totals.Grand.Cents)
	}

	rec = env.do(t, http.MethodGet, "/api/me/series", "", cookie)
	if got := len(decode[[]bucketView](t, rec)); got != 6 {
		t.Fatalf("default series length = %d", got)
	}

	for _, q := range []string{"months=abc", "months=0", "months=25"} {
		if rec := env.do(t, http.MethodGet, "/api/me/series?"+q, "", cookie); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d", q, rec.Code)
		}
	}
}

func TestProfileAndHistory(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "asha@example.com")

	rec := env.do(t, http.MethodGet, "/api/me/profile", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	p := decode[profileView](t, rec)
	if p.Month.Key != "2024-02" || p.Totals.Grand.Cents != 30000 || !p.Report.Available {
		t.Fatalf("profile = %+v", p)
	}
	if p.Current.Grand.Cents != 26500 {
		t.Fatalf("current = %+v", p.Current)
	}

	rec = env.do(t, http.MethodGet, "/api/me/profile?month=2024-03", "", cookie)
	p = decode[profileView](t, rec)
	if len(p.Entries) != 3 || p.Report.Available {
		t.Fatalf("march profile = %+v", p)
	}

	if rec := env.do(t, http.MethodGet, "/api/me/profile?month=march", "", cookie); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month status=%d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/me/history", "", cookie)
	groups := decode[[]monthGroupView](t, rec)
	if len(groups) != 2 || groups[0].Key != "2024-03" || groups[1].Key != "2024-02" {
		t.Fatalf("history = %+v", groups)
	}
}

func TestReportAvailability(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "asha@example.com")

	cases := []struct {
		query     string
		status    int
		key       string
		available bool
	}{
		{"", http.StatusOK, "2024-02", true},
		{"?year=2024&month=3", http.StatusOK, "2024-03", false},
		{"?year=2023&month=12", http.StatusOK, "2023-12", true},
		{"?year=2024&month=13", http.StatusBadRequest, "", false},
		{"?year=x&month=1", http.StatusBadRequest, "", false},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodGet, "/api/reports/availability"+tc.query, "", cookie)
		if rec.Code != tc.status {
			t.Fatalf("%q status=%d want %d", tc.query, rec.Code, tc.status)
		}
		if tc.status != http.StatusOK {
			continue
		}
		a := decode[availabilityView](t, rec)
		if a.Month.Key != tc.key || a.Available != tc.available {
			t.Fatalf("%q = %+v", tc.query, a)
		}
	}
}

func TestRequestReport(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "asha@example.com")

	rec := env.do(t, http.MethodPost, "/api/reports/monthly", `{"year":2024,"month":2}`, cookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	accepted := decode[reportAccepted](t, rec)
	if accepted.RequestID == "" || accepted.UserID != "u1" || accepted.Month.Key != "2024-02" {
		t.Fatalf("accepted = %+v", accepted)
	}
	if len(env.pub.msgs) != 1 || env.pub.msgs[0].UserName != "Asha" || env.pub.msgs[0].AuthToken == "" {
		t.Fatalf("published = %+v", env.pub.msgs)
	}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"current month", `{"year":2024,"month":3}`, http.StatusConflict},
		{"other user", `{"userId":"u2","year":2024,"month":2}`, http.StatusForbidden},
		{"missing month", `{"year":2024}`, http.StatusUnprocessableEntity},
		{"bad month", `{"year":2024,"month":14}`, http.StatusBadRequest},
		{"wrong type", `{"year":"2024","month":2}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, "/api/reports/monthly", tc.body, cookie); rec.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rec.Code, tc.want, rec.Body)
			}
		})
	}

	env.pub.err = amqp.ErrCircuitOpen
	if rec := env.do(t, http.MethodPost, "/api/reports/monthly", `{"year":2024,"month":1}`, cookie); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("open circuit status=%d", rec.Code)
	}
}

func TestRequestReportWithoutQueue(t *testing.T) {
	env := newTestEnv(t, withoutPublisher())
	cookie := env.login(t, "asha@example.com")
	if rec := env.do(t, http.MethodPost, "/api/reports/monthly", `{"year":2024,"month":2}`, cookie); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestAdminToday(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.login(t, "admin@example.com")

	rec := env.do(t, http.MethodGet, "/api/admin/today", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	s := decode[daySummaryView](t, rec)
	if s.Date != "2024-03-05" || s.Checkins != 1 || s.PendingCheckouts != 1 || s.Allowances.Cents != 20000 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestExportedReports(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sheet.AppendReport(context.Background(), core.MonthlyReport{
		RequestID:   "req-1",
		UserID:      "u1",
		UserName:    "Asha",
		Year:        2024,
		Month:       2,
		Totals:      core.MonthTotals{Daily: core.Money{Cents: 30000}, Grand: core.Money{Cents: 30000}},
		GeneratedAt: march5,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	admin := env.login(t, "admin@example.com")

	rec := env.do(t, http.MethodGet, "/api/admin/reports", "", admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	reps := decode[[]exportedReportView](t, rec)
	if len(reps) != 1 || reps[0].UserID != "u1" || reps[0].Month.Key != "2024-02" || reps[0].Totals.Grand.Cents != 30000 {
		t.Fatalf("reports = %+v", reps)
	}

	rec = env.do(t, http.MethodGet, "/api/admin/reports?year=2024&month=1", "", admin)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty month: status=%d body=%s", rec.Code, rec.Body)
	}
	if rec := env.do(t, http.MethodGet, "/api/admin/reports?month=13", "", admin); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month status=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/admin/reports", "", env.login(t, "asha@example.com")); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin status=%d", rec.Code)
	}
}

func TestExportedReportsWithoutSheet(t *testing.T) {
	env := newTestEnv(t, withoutExport())
	rec := env.do(t, http.MethodGet, "/api/admin/reports", "", env.login(t, "admin@example.com"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestLogoutAndExpiry(t *testing.T) {
	env := newTestEnv(t)

	cookie := env.login(t, "asha@example.com")
	if rec := env.do(t, http.MethodPost, "/api/auth/logout", "", cookie); rec.Code != http.StatusNoContent {
		t.Fatalf("logout status=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/me", "", cookie); rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout status=%d", rec.Code)
	}

	cookie = env.login(t, "asha@example.com")
	env.clock.Advance(13 * time.Hour)
	rec := env.do(t, http.MethodGet, "/api/me", "", cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired session status=%d", rec.Code)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expired session cookie was not cleared")
	}
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, withRateLimit(2))
	body := `{"email":"asha@example.com","password":"wrong"}`
	for i := 0; i < 2; i++ {
		if rec := env.do(t, http.MethodPost, "/api/auth/login", body, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status=%d", i+1, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/auth/login", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}
