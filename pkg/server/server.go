package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"garagehq/aigate/pkg/config"
	"garagehq/aigate/pkg/limits"
	"garagehq/aigate/pkg/limits/storage"
	"garagehq/aigate/pkg/telemetry/health"
	"garagehq/aigate/pkg/telemetry/metrics"
	"garagehq/aigate/pkg/telemetry/tracing"
	"garagehq/aigate/pkg/usagelog"
)

// Dependencies are the collaborators the API serves.
type Dependencies struct {
	// Admitter runs admissions and usage reports. Required.
	Admitter *limits.Admitter

	// Backend holds tenant quotas and usage counters. Required.
	Backend storage.Backend

	// CallLog backs the export endpoints. Nil disables them.
	CallLog usagelog.Storage

	// Health serves the probes. A checker without checks is used when nil.
	Health *health.Checker

	// Metrics serves /metrics and records HTTP metrics. Nil disables both.
	Metrics *metrics.Collector

	// Ingress overrides the limiter built from the server config.
	Ingress *IngressLimiter
}

// BuildInfo is reported by /version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the aigate HTTP API.
type Server struct {
	config        *config.Config
	admitter      *limits.Admitter
	backend       storage.Backend
	callLog       usagelog.Storage
	health        *health.Checker
	metrics       *metrics.Collector
	ingress       *IngressLimiter
	build         BuildInfo
	maxExportRows int
	logger        *slog.Logger

	handler      http.Handler
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New creates the API server. The handler is built once; Start and
// Handler share it.
func New(cfg *config.Config, deps Dependencies, build BuildInfo) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is nil")
	}
	if deps.Admitter == nil {
		return nil, errors.New("server requires an admitter")
	}
	if deps.Backend == nil {
		return nil, errors.New("server requires a storage backend")
	}

	s := &Server{
		config:        cfg,
		admitter:      deps.Admitter,
		backend:       deps.Backend,
		callLog:       deps.CallLog,
		health:        deps.Health,
		metrics:       deps.Metrics,
		ingress:       deps.Ingress,
		build:         build,
		maxExportRows: cfg.UsageLog.Export.MaxRows,
		logger:        slog.Default().With("component", "server"),
	}
	if s.health == nil {
		s.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	}
	if s.maxExportRows <= 0 {
		s.maxExportRows = config.DefaultExportMaxRows
	}
	if s.ingress == nil && cfg.Server.Ingress.Enabled {
		var opts []IngressOption
		if s.metrics != nil {
			denied := promauto.With(s.metrics.Registry()).NewCounter(prometheus.CounterOpts{
				Namespace: metrics.Namespace,
				Subsystem: "http",
				Name:      "ingress_denied_total",
				Help:      "Requests rejected by the per-client ingress limiter.",
			})
			opts = append(opts, WithIngressDenied(func(string) { denied.Inc() }))
		}
		s.ingress = NewIngressLimiter(cfg.Server.Ingress.RequestsPerSecond, cfg.Server.Ingress.Burst, opts...)
	}

	s.handler = s.setupRoutes()
	return s, nil
}

// Start serves until ctx is cancelled, a SIGINT/SIGTERM arrives or the
// listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
		BaseContext:    func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Unlock()

	ingressCtx, stopIngress := context.WithCancel(ctx)
	defer stopIngress()
	if s.ingress != nil {
		go s.ingress.Run(ingressCtx)
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server",
			"address", ln.Addr().String(),
			"auth", s.config.Server.ServiceToken != "",
			"ingress_limiter", s.ingress != nil,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully shuts down the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("API server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes builds the router and the middleware chain.
//
//	otelhttp -> trace headers -> recover -> request id -> access log ->
//	metrics -> route annotation -> router
//
// /v1 additionally runs the ingress limiter and the service token check.
func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(accessLog)
	if s.metrics != nil && s.metrics.Enabled() {
		r.Use(instrument(s.metrics.HTTP()))
	}
	r.Use(annotateRoute)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorTypeNotFound, "no route for "+r.URL.Path, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrorTypeMethodNotAllowed,
			r.Method+" is not allowed on "+r.URL.Path, "")
	})

	hc := s.config.Telemetry.Health
	r.Method(http.MethodGet, hc.LivenessPath, s.health.LivenessHandler())
	r.Method(http.MethodHead, hc.LivenessPath, s.health.LivenessHandler())
	r.Method(http.MethodGet, hc.ReadinessPath, s.health.ReadinessHandler())
	r.Method(http.MethodHead, hc.ReadinessPath, s.health.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.build.Version, s.build.Commit, s.build.BuildTime))

	if s.metrics != nil && s.metrics.Enabled() {
		r.Handle(s.config.Telemetry.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if s.ingress != nil {
			r.Use(s.ingress.Middleware)
		}
		r.Use(requireToken(s.config.Server.ServiceToken))

		r.Post("/admissions", s.handleAdmit)
		r.Post("/usage", s.handleUsage)
		r.Get("/usage", s.handleListUsage)

		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/usage", s.handleTenantUsage)
			r.Get("/quota", s.handleGetQuota)
			r.Put("/quota", s.handleSetQuota)
			r.Delete("/window", s.handleResetWindow)
		})

		r.Get("/calls/export.csv", s.handleExport("csv"))
		r.Get("/calls/export.json", s.handleExport("json"))
	})

	skip := map[string]bool{}
	for _, p := range []string{hc.LivenessPath, hc.ReadinessPath, s.config.Telemetry.Metrics.Path} {
		skip[p] = true
	}
	return otelhttp.NewHandler(
		tracing.ResponseHeaders(r),
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !skip[r.URL.Path]
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// annotateRoute renames the span to the route pattern.
			return r.Method + " " + strings.TrimSuffix(r.URL.Path, "/")
		}),
	)
}
