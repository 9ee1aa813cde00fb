package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"allowance/internal/amqp"
	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/session"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func userSession(id string) *session.Session {
	return &session.Session{ID: "s-" + id, Token: "tok-" + id, User: core.User{ID: id, Name: "User " + id, RoleLevel: 2}}
}

func adminSession() *session.Session {
	return &session.Session{ID: "s-admin", Token: "tok-admin", User: core.User{ID: "admin", Name: "Admin", RoleLevel: core.AdminRoleLevel}}
}

// fakeSource serves canned records and counts upstream calls.
type fakeSource struct {
	users     []core.User
	histories map[string]core.History
	misc      map[string][]core.MiscClaim
	routes    []core.Route

	historyErr error
	miscErr    error
	routesErr  error

	// blockMisc makes MiscClaims wait for cancellation.
	blockMisc bool

	historyCalls atomic.Int32
	miscCalls    atomic.Int32
	routeCalls   atomic.Int32

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (f *fakeSource) History(ctx context.Context, _ *session.Session, userID string) (core.History, error) {
	f.historyCalls.Add(1)
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.historyErr != nil {
		return core.History{}, f.historyErr
	}
	h, ok := f.histories[userID]
	if !ok && f.histories != nil {
		return core.History{}, records.ErrUserNotFound
	}
	return h, nil
}

func (f *fakeSource) MiscClaims(ctx context.Context, _ *session.Session, userID string) ([]core.MiscClaim, error) {
	f.miscCalls.Add(1)
	if f.blockMisc {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.miscErr != nil {
		return nil, f.miscErr
	}
	return f.misc[userID], nil
}

func (f *fakeSource) Routes(context.Context, *session.Session) ([]core.Route, error) {
	f.routeCalls.Add(1)
	if f.routesErr != nil {
		return nil, f.routesErr
	}
	return f.routes, nil
}

func (f *fakeSource) Users(context.Context, *session.Session) ([]core.User, error) {
	return f.users, nil
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

type fakeArchive struct {
	mu       sync.Mutex
	pending  []core.MonthlyReport
	exported map[string]string
	failed   map[string]int
	listErr  error
}

func newFakeArchive(reps ...core.MonthlyReport) *fakeArchive {
	return &fakeArchive{pending: reps, exported: map[string]string{}, failed: map[string]int{}}
}

func (a *fakeArchive) PendingExports(_ context.Context, limit, maxAttempts int) ([]core.MonthlyReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	var out []core.MonthlyReport
	for _, r := range a.pending {
		key := r.UserID + "/" + r.MonthKey()
		if _, done := a.exported[key]; done || a.failed[key] >= maxAttempts {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *fakeArchive) MarkExported(_ context.Context, userID string, year, month int, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exported[userID+"/"+core.MonthKeyOf(year, month)] = ref
	return nil
}

func (a *fakeArchive) MarkExportFailed(_ context.Context, userID string, year, month int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed[userID+"/"+core.MonthKeyOf(year, month)]++
	return nil
}

type fakeExporter struct {
	failFor string
	calls   atomic.Int32
}

var errSheetDown = errors.New("sheet unavailable")

func (e *fakeExporter) AppendReport(_ context.Context, rep core.MonthlyReport) (string, error) {
	e.calls.Add(1)
	if rep.UserID == e.failFor {
		return "", errSheetDown
	}
	return "Reports!A1:H1/" + rep.UserID, nil
}
