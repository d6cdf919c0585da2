package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/internal/cleanup"
	"github.com/rambocode/echarts-server/internal/observability"
	"github.com/rambocode/echarts-server/internal/task"
)

const maxBodyBytes = 10 << 20 // 10 MB request cap

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	manager    *task.Manager
	scheduler  *cleanup.Scheduler
	metrics    *observability.Collector
	validate   *validator.Validate
}

type Config struct {
	Port string
}

func NewServer(cfg Config, logger *zap.Logger, manager *task.Manager, scheduler *cleanup.Scheduler, metrics *observability.Collector, metricsHandler http.Handler) *Server {
	r := mux.NewRouter()

	routeName := func(r *http.Request) string {
		if rt := mux.CurrentRoute(r); rt != nil {
			if tpl, err := rt.GetPathTemplate(); err == nil && tpl != "" {
				return tpl
			}
		}
		return r.URL.Path
	}

	// Middlewares (order matters)
	r.Use(observability.RequestIDMiddleware)
	r.Use(observability.TracingMiddleware(routeName))
	r.Use(observability.HTTPMetricsMiddleware(metrics))
	r.Use(observability.AccessLogMiddleware(logger, routeName))

	srv := &Server{
		logger:    logger,
		manager:   manager,
		scheduler: scheduler,
		metrics:   metrics,
		validate:  newValidator(),
	}

	// Charts
	r.HandleFunc("/api/charts/generate", srv.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/api/charts/status/{id}", srv.handleStatus).Methods(http.MethodGet)

	// System
	r.HandleFunc("/api/system/queue-status", srv.handleQueueStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/system/health", srv.handleSystemHealth).Methods(http.MethodGet)
	r.Handle("/api/system/metrics", metricsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/system/performance", srv.handlePerformance).Methods(http.MethodGet)
	r.HandleFunc("/api/system/cleanup-status", srv.handleCleanupStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/system/cleanup/manual", srv.handleManualCleanup).Methods(http.MethodPost)

	// Liveness
	r.HandleFunc("/health", srv.handleLiveness).Methods(http.MethodGet)

	s := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv.httpServer = s
	return srv
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
