// Package server exposes the orchestrator over HTTP: a JSON REST API, a
// WebSocket event stream and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/export"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
	"papertrader/internal/orchestrator"
)

// Config controls the HTTP listener.
type Config struct {
	Addr            string
	RequestTimeout  time.Duration
	RateLimit       float64
	RateBurst       int
	ShutdownTimeout time.Duration
}

// DefaultConfig listens on :8080 with 20 requests/s and a burst of 40.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		RequestTimeout:  30 * time.Second,
		RateLimit:       20,
		RateBurst:       40,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server routes HTTP requests to a Manager.
type Server struct {
	cfg     Config
	mgr     *orchestrator.Manager
	hub     *WSHub
	limiter *rate.Limiter
	logger  zerolog.Logger
	router  chi.Router
	clock   func() time.Time
}

// New builds the router. Call Run to serve and stream events.
func New(cfg Config, mgr *orchestrator.Manager, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		hub:    NewWSHub(logger),
		logger: logger.With().Str("component", "http").Logger(),
		clock:  time.Now,
	}
	s.limiter = newLimiter(cfg.RateLimit, cfg.RateBurst)
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.hub
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware(routePattern))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"agents":  len(s.mgr.Agents()),
			"running": s.mgr.RunningCount(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", s.hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			r.Use(s.rateLimit)

			r.Get("/templates", s.listTemplates)
			r.Get("/activity", s.listActivity)
			r.Get("/performance", s.listPerformance)
			r.Get("/summary", s.summary)

			r.Get("/agents", s.listAgents)
			r.Post("/agents", s.createAgent)
			r.Post("/agents/pause", s.pauseAll)
			r.Post("/agents/resume", s.resumeAll)

			r.Route("/agents/{agentID}", func(r chi.Router) {
				r.Get("/", s.getAgent)
				r.Patch("/", s.updateAgent)
				r.Delete("/", s.deleteAgent)
				r.Post("/start", s.startAgent)
				r.Post("/stop", s.stopAgent)
				r.Post("/reset", s.resetAgent)
				r.Get("/portfolio", s.getPortfolio)
				r.Get("/trades", s.getTrades)
				r.Get("/trades.csv", s.exportTrades)
			})
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// newLimiter returns nil when perSecond is not positive. A missing burst
// defaults to one second's worth of requests.
func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves HTTP and streams orchestrator events until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	events, unsubscribe := s.mgr.Subscribe()
	defer unsubscribe()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx, events)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(err, "http shutdown")
	}
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

type createAgentRequest struct {
	Template  string                  `json:"template"`
	Name      string                  `json:"name,omitempty"`
	Overrides *models.ConfigOverrides `json:"overrides,omitempty"`
}

type updateAgentRequest struct {
	Name string `json:"name,omitempty"`
	models.ConfigOverrides
}

type agentView struct {
	Config      models.AgentConfig      `json:"config"`
	Portfolio   models.Portfolio        `json:"portfolio"`
	Performance models.AgentPerformance `json:"performance"`
	Thought     models.Thought          `json:"thought"`
}

type summaryView struct {
	TotalValue    float64                  `json:"totalValue"`
	Agents        int                      `json:"agents"`
	RunningAgents int                      `json:"runningAgents"`
	BestAgent     *models.AgentPerformance `json:"bestAgent,omitempty"`
}

func (s *Server) listTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Templates())
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.mgr.Activity(limit))
}

func (s *Server) listPerformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Ranked())
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	view := summaryView{
		TotalValue:    s.mgr.TotalPortfolioValue(),
		Agents:        len(s.mgr.Agents()),
		RunningAgents: s.mgr.RunningCount(),
	}
	if best, ok := s.mgr.BestAgent(); ok {
		view.BestAgent = &best
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Agents())
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Template == "" {
		writeError(w, "template is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.mgr.CreateAgent(req.Template, req.Name, req.Overrides)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) view(id string) (agentView, error) {
	e, err := s.mgr.Agent(id)
	if err != nil {
		return agentView{}, err
	}
	perf, err := s.mgr.Performance(id)
	if err != nil {
		return agentView{}, err
	}
	return agentView{
		Config:      e.Config(),
		Portfolio:   e.Portfolio(),
		Performance: perf,
		Thought:     e.Thought(),
	}, nil
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentID")
	var req updateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name != "" {
		if _, err := s.mgr.RenameAgent(id, req.Name); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	cfg, err := s.mgr.UpdateAgentConfig(id, req.ConfigOverrides)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.DeleteAgent(chi.URLParam(r, "agentID")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lifecycle(op func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "agentID")
		if err := op(id); err != nil {
			s.writeErr(w, err)
			return
		}
		v, err := s.view(id)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func (s *Server) startAgent(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.mgr.StartAgent)(w, r)
}

func (s *Server) stopAgent(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.mgr.StopAgent)(w, r)
}

func (s *Server) resetAgent(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(s.mgr.ResetAgent)(w, r)
}

func (s *Server) pauseAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"stopped": s.mgr.PauseAll()})
}

func (s *Server) resumeAll(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"started": s.mgr.ResumeAll()})
}

func (s *Server) getPortfolio(w http.ResponseWriter, r *http.Request) {
	e, err := s.mgr.Agent(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.Portfolio())
}

func (s *Server) getTrades(w http.ResponseWriter, r *http.Request) {
	e, err := s.mgr.Agent(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.Trades())
}

func (s *Server) exportTrades(w http.ResponseWriter, r *http.Request) {
	e, err := s.mgr.Agent(chi.URLParam(r, "agentID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	data, err := export.TradesCSV(e.Trades())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(s.clock())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// =============================================================================
// Responses
// =============================================================================

func statusFor(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrAgentNotFound),
		apperrors.Is(err, apperrors.ErrTemplateNotFound),
		errors.Is(err, export.ErrNoTrades):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrAgentCapReached):
		return http.StatusConflict
	case apperrors.Is(err, apperrors.ErrConfigInvalid),
		apperrors.Is(err, apperrors.ErrUnknownStrategy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
