package services

import (
	"context"
	"fmt"
	"time"

	"allowance/internal/amqp"
	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/session"
)

// Publisher queues report requests for the worker.
type Publisher interface {
	PublishReportRequest(ctx context.Context, msg *amqp.ReportRequestMessage) error
}

type ReportAvailability struct {
	Month     core.MonthRef
	Available bool
}

// Availability tells whether a report for year/month can be requested as of now.
func Availability(year, month int, now time.Time) (ReportAvailability, error) {
	if month < 1 || month > 12 || year < 1 {
		return ReportAvailability{}, fmt.Errorf("%w: %d-%d", core.ErrInvalidMonth, year, month)
	}
	return ReportAvailability{
		Month:     core.MonthRefOf(year, month),
		Available: core.IsReportAvailable(year, month, now),
	}, nil
}

type ReportService struct {
	publisher Publisher
	logger    *log.Logger
}

// NewReportService creates the report service. A nil publisher makes every
// request fail with ErrPublisherUnavailable.
func NewReportService(publisher Publisher, logger *log.Logger) *ReportService {
	return &ReportService{publisher: publisher, logger: logger.WithComponent(log.ComponentReport)}
}

// Enabled reports whether a queue is wired in.
func (s *ReportService) Enabled() bool {
	return s.publisher != nil
}

// RequestMonthly queues generation of userID's report for year/month and
// returns the request id. Months that have not ended yet are refused.
func (s *ReportService) RequestMonthly(ctx context.Context, sess *session.Session, userID string, year, month int, now time.Time) (string, error) {
	if err := authorize(sess, userID); err != nil {
		return "", err
	}
	avail, err := Availability(year, month, now)
	if err != nil {
		return "", err
	}
	if !avail.Available {
		return "", fmt.Errorf("%w: %s", ErrReportNotAvailable, avail.Month.Key)
	}
	if s.publisher == nil {
		return "", ErrPublisherUnavailable
	}

	userName := ""
	if sess.User.ID == userID {
		userName = sess.User.Name
	}
	msg := amqp.NewReportRequestMessage(userID, userName, year, month, sess.Token)
	if err := s.publisher.PublishReportRequest(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to queue report request",
			log.FieldUserID, userID,
			log.FieldMonthKey, avail.Month.Key,
			log.FieldOperation, log.OpPublish,
			log.FieldError, err.Error())
		return "", fmt.Errorf("queue report request: %w", err)
	}

	s.logger.InfoContext(ctx, "Report requested",
		log.FieldRequestID, msg.RequestID,
		log.FieldUserID, userID,
		log.FieldMonthKey, avail.Month.Key)
	return msg.RequestID, nil
}
