package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"allowance/internal/log"
	"allowance/internal/middleware/ratelimit"
	"allowance/internal/middleware/security"
	"allowance/internal/middleware/trace"
	"allowance/internal/records"
	"allowance/internal/services"
	"allowance/internal/session"
	"allowance/internal/sheets"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Auth      records.Authenticator
	Sessions  *session.Store
	Dashboard *services.DashboardService
	Admin     *services.AdminService
	Reports   *services.ReportService

	// Exported reads back reports written to the export sheet. Nil when
	// export is not configured.
	Exported sheets.ReportLister

	// Ready reports whether the record source can serve requests. Nil means
	// always ready.
	Ready func(context.Context) error
}

type Config struct {
	Addr               string
	RateLimitPerMinute int
	SeriesMonths       int
	ReadyTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:               ":8081",
		RateLimitPerMinute: 60,
		SeriesMonths:       12,
		ReadyTimeout:       5 * time.Second,
	}
}

type Server struct {
	http.Server

	deps   Deps
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	detector *security.Detector
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	started  time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, deps Deps, logger *log.Logger) *Server {
	def := DefaultConfig()
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = def.RateLimitPerMinute
	}
	if cfg.SeriesMonths <= 0 {
		cfg.SeriesMonths = def.SeriesMonths
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = def.ReadyTimeout
	}

	logger = logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector()
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = cfg.RateLimitPerMinute

	s := &Server{
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		detector: detector,
		limiter:  ratelimit.NewLimiter(rlCfg),
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = detector.Middleware(logger)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// WithClock swaps the time source handlers use for "now".
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.Handle("POST /api/auth/login", s.limited(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /api/auth/logout", s.requireSession(s.handleLogout))

	mux.Handle("GET /api/me", s.requireSession(s.handleMe))
	for _, prefix := range []string{"/api/me", "/api/users/{id}"} {
		mux.Handle("GET "+prefix+"/dashboard", s.requireSession(s.handleDashboard))
		mux.Handle("GET "+prefix+"/profile", s.requireSession(s.handleProfile))
		mux.Handle("GET "+prefix+"/history", s.requireSession(s.handleHistory))
		mux.Handle("GET "+prefix+"/series", s.requireSession(s.handleSeries))
	}

	mux.Handle("GET /api/reports/availability", s.requireSession(s.handleReportAvailability))
	mux.Handle("POST /api/reports/monthly", s.limited(s.requireSession(s.handleRequestReport)))

	mux.Handle("GET /api/admin/today", s.requireAdmin(s.handleAdminToday))
	mux.Handle("GET /api/admin/reports", s.requireAdmin(s.handleExportedReports))
}

// limited applies the per-client rate limit.
func (s *Server) limited(next http.Handler) http.Handler {
	onLimit := func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
	}
	return s.limiter.Middleware(s.detector.ExtractClientIP, onLimit)(next)
}

// writeError logs err and answers with the matching status. Client errors are
// logged at warn, everything else at error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusForError(err)
	ctx := r.Context()
	logger := log.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		fields := log.NewFields()
		fields[log.FieldStatusCode] = status
		logger.LogError(ctx, "Request failed", err, op, fields)
	} else {
		logger.WarnContext(ctx, "Request rejected",
			log.FieldOperation, op,
			log.FieldStatusCode, status,
			log.FieldError, err.Error())
	}
	body := errorBody{Error: msg, RequestID: trace.GetRequestID(ctx)}
	NewJSONResponse().Status(status).Body(body).Write(w)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// ListenAndServe runs the server until Shutdown. http.ErrServerClosed is
// reported as a clean exit.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.Addr)
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
