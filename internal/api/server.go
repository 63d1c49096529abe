// Package api serves the local HTTP API over the stores, the pending queue
// and the trash manager.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leafscan/leafscan/internal/buildinfo"
	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/observability"
	"github.com/leafscan/leafscan/internal/pending"
	"github.com/leafscan/leafscan/internal/scan"
	"github.com/leafscan/leafscan/internal/store"
	"github.com/leafscan/leafscan/internal/syncengine"
	"github.com/leafscan/leafscan/internal/trash"
)

// Server timeouts.
const (
	ReadTimeout     = 30 * time.Second
	WriteTimeout    = 2 * time.Minute // scans may wait for the classifier
	IdleTimeout     = 2 * time.Minute
	ShutdownTimeout = 10 * time.Second
	BodyLimit       = "2M"
	SyncTimeout     = time.Minute // bounds POST /sync while the backend is unreachable
)

// Server is the local HTTP API.
type Server struct {
	echo   *echo.Echo
	addr   string
	userID string
	log    logger.Logger

	store   *store.Context
	queue   *pending.Queue
	scans   *scan.Service
	trash   *trash.Manager
	sync    *syncengine.Registry
	metrics *observability.Metrics
	build   *buildinfo.Context

	startTime time.Time
	wg        sync.WaitGroup
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithQueue enables the pending queue and connectivity routes.
func WithQueue(q *pending.Queue) ServerOption {
	return func(s *Server) { s.queue = q }
}

// WithScanService enables POST /api/v1/scans.
func WithScanService(svc *scan.Service) ServerOption {
	return func(s *Server) { s.scans = svc }
}

// WithTrash enables the trash routes.
func WithTrash(m *trash.Manager) ServerOption {
	return func(s *Server) { s.trash = m }
}

// WithSync enables POST /api/v1/sync and the outbox count on /health.
func WithSync(r *syncengine.Registry) ServerOption {
	return func(s *Server) { s.sync = r }
}

// WithMetrics serves /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBuildInfo adds version details to /health.
func WithBuildInfo(b *buildinfo.Context) ServerOption {
	return func(s *Server) { s.build = b }
}

// New creates a server over sc. Aggregations are scoped to userID; an empty
// userID covers every farm.
func New(addr, userID string, sc *store.Context, opts ...ServerOption) *Server {
	s := &Server{
		addr:      addr,
		userID:    userID,
		store:     sc,
		log:       logger.Global().Module("api"),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError
	s.echo.Server.ReadTimeout = ReadTimeout
	s.echo.Server.WriteTimeout = WriteTimeout
	s.echo.Server.IdleTimeout = IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start implements store.Component. It listens in the background.
func (s *Server) Start(context.Context) error {
	s.wg.Go(func() {
		s.log.Info("HTTP server starting", logger.String("address", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
		}
	})
	return nil
}

// Stop implements store.Component.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return errors.New(err).Component("api").Category(errors.CategoryTimeout).Build()
	}
	s.log.Info("HTTP server stopped")
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/farms/health", s.farmHealth)
	v1.GET("/stats", s.monthlyStats)
	v1.GET("/recent/trees", s.recentTrees)
	v1.GET("/recent/images", s.recentImages)

	if s.sync != nil {
		v1.POST("/sync", s.syncAll)
	}
	if s.scans != nil {
		v1.POST("/scans", s.runScan)
	}
	if s.queue != nil {
		v1.GET("/pending", s.listPending)
		v1.DELETE("/pending", s.deletePending)
		v1.POST("/pending/process", s.processPending)
		v1.POST("/pending/:id/process", s.processOne)
		v1.GET("/pending/:id/result", s.pendingResult)
		v1.POST("/pending/:id/commit", s.commitPending)
		v1.POST("/pending/:id/retry", s.retryPending)
		v1.PUT("/connectivity", s.setConnectivity)
	}
	if s.trash != nil {
		v1.GET("/trash", s.listTrash)
		v1.POST("/trash", s.moveToTrash)
		v1.POST("/trash/restore", s.restoreTrash)
		v1.POST("/trash/delete", s.deleteTrash)
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	resp := map[string]any{
		"status":         "healthy",
		"version":        s.build.GetVersion(),
		"build_date":     s.build.GetBuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.queue != nil {
		resp["online"] = s.queue.Online()
		resp["draining"] = s.queue.Draining()
		resp["pending_items"] = len(s.queue.List())
	}
	if s.sync != nil {
		resp["outbox"] = s.sync.Pending()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) syncAll(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), SyncTimeout)
	defer cancel()
	if err := s.sync.SyncAll(ctx); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
