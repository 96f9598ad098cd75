// Package server exposes the service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/config"
	"github.com/hed1ad/logids/pkg/metrics"
	"github.com/hed1ad/logids/pkg/service"
)

// Server routes HTTP requests to the service.
type Server struct {
	svc        *service.Service
	metrics    *metrics.Metrics
	limiter    *RateLimiter
	maxUpload  int64
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	shutdown   time.Duration
}

// New creates a server for svc.
func New(cfg config.ServerConfig, svc *service.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		svc:       svc,
		metrics:   m,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		maxUpload: cfg.MaxUploadBytes,
		logger:    logger,
		router:    chi.NewRouter(),
		shutdown:  cfg.ShutdownTimeout,
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.metricsMiddleware)

	s.router.With(s.rateLimit).Post("/ingest", s.handleIngest)
	s.router.With(s.rateLimit).Post("/labels", s.handleLabels)
	s.router.Post("/train", s.handleTrain)

	s.router.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Delete("/{id}", s.handleCancelJob)
	})

	s.router.Get("/alerts", s.handleAlerts)
	s.router.Get("/alerts.csv", s.handleAlertsCSV)
	s.router.Get("/report", s.handleReport)
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.IncrementRequest(r.Method, route, status)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			s.metrics.RateLimitHits.Inc()
			s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
