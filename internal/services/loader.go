// Package services composes record sources and the aggregator into the
// views and actions the HTTP API and the report worker expose.
package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"allowance/internal/core"
	"allowance/internal/records"
	"allowance/internal/session"
)

var (
	ErrForbidden            = records.ErrForbidden
	ErrReportNotAvailable   = errors.New("report not available until the month has ended")
	ErrPublisherUnavailable = errors.New("report queue not configured")
)

// CollectionReader is what the loader needs from a record source.
type CollectionReader interface {
	records.HistoryReader
	records.MiscReader
}

// LoadCollections fetches a user's history and miscellaneous claims in
// parallel. Both fetches complete before it returns; the first failure
// cancels the other.
func LoadCollections(ctx context.Context, src CollectionReader, sess *session.Session, userID string) (core.Collections, error) {
	var (
		history core.History
		misc    []core.MiscClaim
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := src.History(gctx, sess, userID)
		if err != nil {
			return err
		}
		history = h
		return nil
	})
	g.Go(func() error {
		m, err := src.MiscClaims(gctx, sess, userID)
		if err != nil {
			return err
		}
		misc = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Collections{}, fmt.Errorf("load records for %s: %w", userID, err)
	}
	return core.Collections{Checkins: history.Checkins, Claims: history.Claims, Misc: misc}, nil
}

func authorize(sess *session.Session, userID string) error {
	if !sess.CanAccess(userID) {
		return ErrForbidden
	}
	return nil
}
