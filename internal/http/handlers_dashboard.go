package http

import (
	"net/http"

	"allowance/internal/core"
	"allowance/internal/log"
	"allowance/internal/services"
	"allowance/internal/session"
)

// targetUser is the {id} path value, or the session user on /api/me routes.
func targetUser(r *http.Request, sess *session.Session) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	return sess.User.ID
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	d, err := s.deps.Dashboard.UserDashboard(r.Context(), sess, targetUser(r, sess), s.now())
	if err != nil {
		s.writeError(w, r, log.OpAggregate, err)
		return
	}
	NewJSONResponse().Body(newDashboardView(d)).Write(w)
}

// handleProfile serves one month's totals and entries. ?month=YYYY-MM picks
// the month, defaulting to the last completed one.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	month := sanitizeInput(r.URL.Query().Get("month"))
	p, err := s.deps.Dashboard.Profile(r.Context(), sess, targetUser(r, sess), month, s.now())
	if err != nil {
		s.writeError(w, r, log.OpAggregate, err)
		return
	}
	NewJSONResponse().Body(newProfileView(p)).Write(w)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	groups, err := s.deps.Dashboard.History(r.Context(), sess, targetUser(r, sess))
	if err != nil {
		s.writeError(w, r, log.OpAggregate, err)
		return
	}
	NewJSONResponse().Body(newHistoryView(groups)).Write(w)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	months, err := ParseIntParam(r.URL.Query(), "months", s.cfg.SeriesMonths)
	if err != nil {
		s.writeError(w, r, log.OpAggregate, err)
		return
	}
	series, err := s.deps.Dashboard.Series(r.Context(), sess, targetUser(r, sess), months, s.now())
	if err != nil {
		s.writeError(w, r, log.OpAggregate, err)
		return
	}
	NewJSONResponse().Body(newSeriesView(series)).Write(w)
}

// handleReportAvailability answers whether a report can be requested for
// ?year&month, defaulting to the last completed month.
func (s *Server) handleReportAvailability(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	now := s.now()
	defYear, defMonth := core.LastCompletedMonth(now)
	params, err := ParseMonthParams(r.URL.Query(), defYear, defMonth)
	if err != nil {
		s.writeError(w, r, log.OpValidate, err)
		return
	}
	avail, err := services.Availability(params.Year, params.Month, now)
	if err != nil {
		s.writeError(w, r, log.OpValidate, err)
		return
	}
	NewJSONResponse().Body(newAvailabilityView(avail)).Write(w)
}

type reportRequest struct {
	UserID string `json:"userId"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
}

type reportAccepted struct {
	RequestID string    `json:"requestId"`
	UserID    string    `json:"userId"`
	Month     monthView `json:"month"`
}

func (s *Server) handleRequestReport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req reportRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpPublish, err)
		return
	}
	if req.Year == 0 || req.Month == 0 {
		s.writeError(w, r, log.OpPublish, unprocessable("year and month are required"))
		return
	}
	userID := sanitizeInput(req.UserID)
	if userID == "" {
		userID = sess.User.ID
	}

	requestID, err := s.deps.Reports.RequestMonthly(r.Context(), sess, userID, req.Year, req.Month, s.now())
	if err != nil {
		s.writeError(w, r, log.OpPublish, err)
		return
	}
	NewJSONResponse().Status(http.StatusAccepted).Body(reportAccepted{
		RequestID: requestID,
		UserID:    userID,
		Month:     newMonthView(core.MonthRefOf(req.Year, req.Month)),
	}).Write(w)
}

func (s *Server) handleAdminToday(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	summary, err := s.deps.Admin.Today(r.Context(), sess, s.now())
	if err != nil {
		s.writeError(w, r, log.OpAggregate, err)
		return
	}
	NewJSONResponse().Body(newDaySummaryView(summary)).Write(w)
}

// handleExportedReports lists the reports already written to the export
// sheet for ?year&month, defaulting to the last completed month.
func (s *Server) handleExportedReports(w http.ResponseWriter, r *http.Request, _ *session.Session) {
	if s.deps.Exported == nil {
		s.writeError(w, r, log.OpExport, errExportDisabled)
		return
	}
	defYear, defMonth := core.LastCompletedMonth(s.now())
	params, err := ParseMonthParams(r.URL.Query(), defYear, defMonth)
	if err != nil {
		s.writeError(w, r, log.OpValidate, err)
		return
	}
	if _, err := services.Availability(params.Year, params.Month, s.now()); err != nil {
		s.writeError(w, r, log.OpValidate, err)
		return
	}
	reps, err := s.deps.Exported.ListReports(r.Context(), params.Year, params.Month)
	if err != nil {
		s.writeError(w, r, log.OpExport, err)
		return
	}
	NewJSONResponse().Body(newExportedReportViews(reps)).Write(w)
}
