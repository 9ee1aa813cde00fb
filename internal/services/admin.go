package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/session"
)

// AdminSource is the part of a record source the admin overview reads.
type AdminSource interface {
	records.UserLister
	records.HistoryReader
}

type AdminService struct {
	src    AdminSource
	limit  int
	logger *log.Logger
}

// NewAdminService creates the admin overview. limit bounds how many user
// histories are fetched at once.
func NewAdminService(src AdminSource, limit int, logger *log.Logger) *AdminService {
	if limit < 1 {
		limit = 1
	}
	return &AdminService{src: src, limit: limit, logger: logger.WithComponent(log.ComponentAdmin)}
}

// Today summarizes every user's check-ins and claims for now's calendar day.
func (s *AdminService) Today(ctx context.Context, sess *session.Session, now time.Time) (core.DaySummary, error) {
	if !sess.IsAdmin() {
		return core.DaySummary{}, ErrForbidden
	}

	users, err := s.src.Users(ctx, sess)
	if err != nil {
		return core.DaySummary{}, fmt.Errorf("list users: %w", err)
	}

	histories := make([]core.History, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, u := range users {
		g.Go(func() error {
			h, err := s.src.History(gctx, sess, u.ID)
			if err != nil {
				return fmt.Errorf("history of %s: %w", u.ID, err)
			}
			histories[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return core.DaySummary{}, err
	}

	summary := core.SummarizeDay(histories, now)
	s.logger.InfoContext(ctx, "Daily summary computed",
		"users", len(users),
		"checkins", summary.Checkins,
		"pending_checkouts", summary.PendingCheckouts,
		log.FieldGrandCents, summary.Allowances.Cents)
	return summary, nil
}
