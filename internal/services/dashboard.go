package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"allowance/internal/cache"
	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/session"
)

var ErrInvalidArgument = errors.New("invalid argument")

const (
	MaxSeriesMonths = 24
	routeCacheKey   = "routes"
)

// DashboardSource is the part of a record source the dashboard reads.
type DashboardSource interface {
	CollectionReader
	records.RouteReader
}

type DashboardConfig struct {
	SeriesMonths  int
	ProfileMonths int
	RecentCount   int
	RouteCacheTTL time.Duration
}

func DefaultDashboardConfig() DashboardConfig {
	return DashboardConfig{
		SeriesMonths:  12,
		ProfileMonths: 6,
		RecentCount:   5,
		RouteCacheTTL: 5 * time.Minute,
	}
}

type (
	Dashboard struct {
		Month          core.MonthRef
		Totals         core.MonthTotals
		Series         []core.MonthBucket
		Today          core.CheckinState
		TodayCheckin   *core.CheckinRecord
		RecentCheckins []core.CheckinRecord
		RecentClaims   []core.TravelClaim
		RecentMisc     []core.MiscClaim
		RecentRoutes   []string

		// ExpectedAllowance is the rate for today's check-in condition, nil
		// before checking in or when the user's rates are unknown.
		ExpectedAllowance *core.Money
		AssignedRoutes    []RouteClaim
	}

	// RouteClaim is an assigned route with what a travel claim on it pays.
	RouteClaim struct {
		ID     string
		Name   string
		Amount core.Money
	}

	Profile struct {
		Month        core.MonthRef
		Totals       core.MonthTotals
		Current      core.MonthTotals
		Series       []core.MonthBucket
		Entries      []core.Entry
		RecentRoutes []string
		Report       ReportAvailability
	}
)

type DashboardService struct {
	src    DashboardSource
	routes *cache.LRUCache[[]core.Route]
	cfg    DashboardConfig
	logger *log.Logger
}

func NewDashboardService(src DashboardSource, cfg DashboardConfig, logger *log.Logger) *DashboardService {
	return &DashboardService{
		src:    src,
		routes: cache.NewLRUCache[[]core.Route](1, cfg.RouteCacheTTL),
		cfg:    cfg,
		logger: logger.WithComponent(log.ComponentDashboard),
	}
}

// RouteCache exposes the route cache so a janitor can sweep it.
func (s *DashboardService) RouteCache() cache.Cleaner {
	return s.routes
}

func (s *DashboardService) allRoutes(ctx context.Context, sess *session.Session) ([]core.Route, error) {
	if routes, ok := s.routes.Get(routeCacheKey); ok {
		return routes, nil
	}
	routes, err := s.src.Routes(ctx, sess)
	if err != nil {
		return nil, err
	}
	s.routes.Set(routeCacheKey, routes)
	return routes, nil
}

// routeNames maps route ids to "From - To" labels.
func routeNames(routes []core.Route) map[string]string {
	names := make(map[string]string, len(routes))
	for _, r := range routes {
		names[r.ID] = r.Name()
	}
	return names
}

// load fetches the user's records and the routes concurrently and returns
// once all three fetches are done.
func (s *DashboardService) load(ctx context.Context, sess *session.Session, userID string) (core.Collections, []core.Route, error) {
	if err := authorize(sess, userID); err != nil {
		return core.Collections{}, nil, err
	}

	var (
		c      core.Collections
		routes []core.Route
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.src.History(gctx, sess, userID)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		c.Checkins, c.Claims = h.Checkins, h.Claims
		return nil
	})
	g.Go(func() error {
		m, err := s.src.MiscClaims(gctx, sess, userID)
		if err != nil {
			return fmt.Errorf("miscellaneous claims: %w", err)
		}
		c.Misc = m
		return nil
	})
	g.Go(func() error {
		r, err := s.allRoutes(gctx, sess)
		if err != nil {
			return fmt.Errorf("routes: %w", err)
		}
		routes = r
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "Loading dashboard records failed",
			log.FieldUserID, userID,
			log.FieldOperation, log.OpFetch,
			log.FieldError, err.Error())
		return core.Collections{}, nil, err
	}
	return c, routes, nil
}

// subject returns the user a view is built for. Administrators looking at
// someone else need the source to list users; otherwise ok is false.
func (s *DashboardService) subject(ctx context.Context, sess *session.Session, userID string) (core.User, bool) {
	if sess.User.ID == userID {
		return sess.User, true
	}
	lister, ok := s.src.(records.UserLister)
	if !ok {
		return core.User{}, false
	}
	users, err := lister.Users(ctx, sess)
	if err != nil {
		s.logger.WarnContext(ctx, "Listing users failed", log.FieldUserID, userID, log.FieldError, err.Error())
		return core.User{}, false
	}
	for _, u := range users {
		if u.ID == userID {
			return u, true
		}
	}
	return core.User{}, false
}

// assignedRoutes lists the user's routes with the claim each would pay, in
// the order the user's assignments list them. Unknown route ids are skipped.
func assignedRoutes(user core.User, routes []core.Route) []RouteClaim {
	byID := make(map[string]core.Route, len(routes))
	for _, r := range routes {
		if user.IsAssigned(r.ID) {
			byID[r.ID] = r
		}
	}
	out := make([]RouteClaim, 0, len(byID))
	for _, id := range user.AssignedRoutes {
		r, ok := byID[id]
		if !ok {
			continue
		}
		delete(byID, id)
		out = append(out, RouteClaim{ID: r.ID, Name: r.Name(), Amount: core.TravelAmount(r, user.Rates)})
	}
	return out
}

func (s *DashboardService) recentRoutes(claims []core.TravelClaim, names map[string]string) []string {
	recent := core.Recent(claims, s.cfg.RecentCount)
	out := make([]string, 0, len(recent))
	for _, cl := range recent {
		if cl.RouteID == "" {
			continue
		}
		if name, ok := names[cl.RouteID]; ok {
			out = append(out, name)
		} else {
			out = append(out, cl.RouteID)
		}
	}
	return out
}

// UserDashboard builds the home view for userID as of now.
func (s *DashboardService) UserDashboard(ctx context.Context, sess *session.Session, userID string, now time.Time) (Dashboard, error) {
	c, routes, err := s.load(ctx, sess, userID)
	if err != nil {
		return Dashboard{}, err
	}
	names := routeNames(routes)

	month := core.MonthRefOf(now.Year(), int(now.Month()))
	d := Dashboard{
		Month:          month,
		Totals:         core.AggregateMonth(c, month.Key),
		Series:         core.BuildMonthlySeries(c, now, s.cfg.SeriesMonths),
		Today:          core.CheckinStateFor(c.Checkins, now),
		RecentCheckins: core.Recent(c.Checkins, s.cfg.RecentCount),
		RecentClaims:   core.Recent(c.Claims, s.cfg.RecentCount),
		RecentMisc:     core.Recent(c.Misc, s.cfg.RecentCount),
		RecentRoutes:   s.recentRoutes(c.Claims, names),
	}
	user, known := s.subject(ctx, sess, userID)
	if today, ok := core.TodayCheckin(c.Checkins, now); ok {
		d.TodayCheckin = &today
		if known {
			if rate, err := user.Rates.Rate(today.Condition); err == nil {
				d.ExpectedAllowance = &rate
			}
		}
	}
	if known {
		d.AssignedRoutes = assignedRoutes(user, routes)
	}

	s.logger.DebugContext(ctx, "Dashboard built",
		log.FieldUserID, userID,
		log.FieldMonthKey, month.Key,
		log.FieldGrandCents, d.Totals.Grand.Cents)
	return d, nil
}

// Profile builds the profile view for one month. An empty month selects the
// last completed month, which is also the default report month.
func (s *DashboardService) Profile(ctx context.Context, sess *session.Session, userID, month string, now time.Time) (Profile, error) {
	year, m := core.LastCompletedMonth(now)
	if month != "" {
		var err error
		if year, m, err = core.ParseMonthKey(month); err != nil {
			return Profile{}, err
		}
	}

	c, routes, err := s.load(ctx, sess, userID)
	if err != nil {
		return Profile{}, err
	}
	names := routeNames(routes)

	ref := core.MonthRefOf(year, m)
	report, err := Availability(year, m, now)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Month:        ref,
		Totals:       core.AggregateMonth(c, ref.Key),
		Current:      core.AggregateMonth(c, core.MonthKeyOf(now.Year(), int(now.Month()))),
		Series:       core.BuildMonthlySeries(c, now, s.cfg.ProfileMonths),
		Entries:      core.MonthEntries(c, ref.Key, names),
		RecentRoutes: s.recentRoutes(c.Claims, names),
		Report:       report,
	}, nil
}

// History groups every record of userID by month, newest first.
func (s *DashboardService) History(ctx context.Context, sess *session.Session, userID string) ([]core.MonthGroup, error) {
	if err := authorize(sess, userID); err != nil {
		return nil, err
	}
	c, err := LoadCollections(ctx, s.src, sess, userID)
	if err != nil {
		return nil, err
	}
	return core.GroupByMonth(c), nil
}

// Series returns the trailing months totals for userID, oldest first.
func (s *DashboardService) Series(ctx context.Context, sess *session.Session, userID string, months int, now time.Time) ([]core.MonthBucket, error) {
	if months < 1 || months > MaxSeriesMonths {
		return nil, fmt.Errorf("%w: months must be between 1 and %d", ErrInvalidArgument, MaxSeriesMonths)
	}
	if err := authorize(sess, userID); err != nil {
		return nil, err
	}
	c, err := LoadCollections(ctx, s.src, sess, userID)
	if err != nil {
		return nil, err
	}
	return core.BuildMonthlySeries(c, now, months), nil
}
