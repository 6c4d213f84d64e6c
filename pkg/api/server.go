// Package api is the operator HTTP surface: execution submission and
// control, pool inspection and manual scaling, a server-sent-events stream
// of execution events, and the health and metrics endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/events"
	"github.com/dirigent-io/dirigent/pkg/metrics"
	"github.com/dirigent-io/dirigent/pkg/orchestrator"
	"github.com/dirigent-io/dirigent/pkg/pool"
	"github.com/dirigent-io/dirigent/pkg/store"
)

// Server wires the engine components behind the operator REST API.
type Server struct {
	cfg      *config.APIConfig
	executor *orchestrator.Executor
	pools    *pool.Manager
	bus      *events.Bus
	store    store.ExecutionStore
	metrics  *metrics.Metrics
	logger   *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the server and its route table. bus, st, and m may be
// nil; the endpoints that need them degrade (events returns 503, readyz
// skips the store probe, /metrics is absent).
func NewServer(cfg *config.APIConfig, ex *orchestrator.Executor, pools *pool.Manager, bus *events.Bus, st store.ExecutionStore, m *metrics.Metrics) *Server {
	if cfg == nil {
		cfg = config.DefaultAPIConfig()
	}
	if ex == nil {
		panic("api.NewServer: executor must not be nil")
	}
	if pools == nil {
		panic("api.NewServer: pools must not be nil")
	}
	s := &Server{
		cfg:      cfg,
		executor: ex,
		pools:    pools,
		bus:      bus,
		store:    st,
		metrics:  m,
		logger:   slog.With("component", "api"),
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(requestID(), requestLogger(s.logger), recovery(s.logger))

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/readyz", s.handleReadyz)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/executions", s.handleCreateExecution)
		v1.GET("/executions", s.handleListExecutions)
		v1.GET("/executions/:id", s.handleGetExecution)
		v1.POST("/executions/:id/pause", s.handlePauseExecution)
		v1.POST("/executions/:id/resume", s.handleResumeExecution)
		v1.POST("/executions/:id/cancel", s.handleCancelExecution)
		v1.POST("/executions/:id/rollback", s.handleRollbackExecution)
		v1.POST("/executions/:id/tasks/:task_id/skip", s.handleSkipTask)
		v1.GET("/executions/:id/events", s.handleExecutionEvents)

		v1.GET("/pools", s.handleListPools)
		v1.GET("/pools/:role", s.handleGetPool)
		v1.POST("/pools/:role/scale", s.handleScalePool)

		v1.GET("/metrics/summary", s.handleMetricsSummary)
	}
	return engine
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serve errors other than graceful close are reported on
// the returned channel.
func (s *Server) Start() (<-chan error, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("api listen on %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API server listening", "addr", ln.Addr().String())
	return errCh, nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(dctx)
}
