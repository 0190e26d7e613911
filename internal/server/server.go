// Package server hosts the admission guard in front of an upstream service,
// together with health, metrics and admin endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admin"
	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/recorder"
)

// Options configures a Server. Guard is required.
type Options struct {
	Addr     string
	Guard    *admission.Guard
	Identity admission.IdentityFunc

	// Admin is mounted at /admin/rate-limits behind AdminToken. Both must be
	// set for the admin API to be served.
	Admin      *admin.Handler
	AdminToken string

	// Upstream receives admitted requests. When nil, admitted requests get
	// a small JSON acknowledgement instead.
	Upstream *url.URL

	// Recorder, when set, captures every guarded request with its final
	// status for later replay.
	Recorder *recorder.Recorder

	// Gatherer backs /metrics. Defaults to the global Prometheus registry.
	Gatherer prometheus.Gatherer

	Logger       *slog.Logger
	Clock        clock.Clock
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the Tollgate HTTP server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	opts       Options
	logger     *slog.Logger
	clock      clock.Clock
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Guard == nil {
		return nil, errors.New("server: guard is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		logger: opts.Logger,
		clock:  opts.Clock,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      opts.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	// Admin calls are never counted against a policy.
	if s.opts.Admin != nil && s.opts.AdminToken != "" {
		r.With(admin.RequireToken(s.opts.AdminToken)).Mount("/admin/rate-limits", s.opts.Admin.Routes())
	}

	r.Group(func(r chi.Router) {
		if s.opts.Recorder != nil {
			r.Use(s.opts.Recorder.Middleware(s.opts.Identity, s.clock, s.logger))
		}
		r.Use(admission.Middleware(s.opts.Guard, s.opts.Identity))

		var upstream http.Handler = http.HandlerFunc(s.handleAdmitted)
		if s.opts.Upstream != nil {
			upstream = s.proxy(s.opts.Upstream)
		}
		r.Handle("/*", upstream)
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAdmitted acknowledges admitted requests when no upstream is set.
func (s *Server) handleAdmitted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"service": "tollgate",
		"method":  r.Method,
		"path":    r.URL.Path,
		"time":    s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) proxy(target *url.URL) http.Handler {
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn("upstream request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   "UPSTREAM_UNAVAILABLE",
		})
	}
	return p
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("tollgate listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
