package memory

import (
	"context"
	"fmt"
	"sync"

	"allowance/internal/core"
	ports "allowance/internal/sheets"
)

var (
	_ ports.ReportExporter = (*Store)(nil)
	_ ports.ReportLister   = (*Store)(nil)
)

// Store keeps exported report rows in memory, for development and tests.
type Store struct {
	mu   sync.Mutex
	rows []core.MonthlyReport
}

func New() *Store {
	return &Store{}
}

// AppendReport stores the report and returns a synthetic row reference.
func (s *Store) AppendReport(_ context.Context, rep core.MonthlyReport) (string, error) {
	if rep.UserID == "" {
		return "", fmt.Errorf("report without user id")
	}
	if rep.Month < 1 || rep.Month > 12 {
		return "", fmt.Errorf("%w: %d", core.ErrInvalidMonth, rep.Month)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rep.Exported = true
	s.rows = append(s.rows, rep)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// ListReports returns the rows of year/month in append order.
func (s *Store) ListReports(_ context.Context, year, month int) ([]core.MonthlyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.MonthlyReport
	for _, r := range s.rows {
		if r.Year == year && r.Month == month {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns how many rows were appended.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
