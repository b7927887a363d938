// Package api exposes the execution core over HTTP: intent submission,
// position inspection, confirmation resolution, and capital snapshots.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hoangle/tradeexec/internal/orchestrator"
)

// Server wires HTTP endpoints around the orchestrator.
type Server struct {
	Router *gin.Engine

	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	srv    *http.Server
}

// NewServer builds the router and middleware stack.
func NewServer(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware())

	s := &Server{
		Router: r,
		orch:   orch,
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.POST("/intents", s.submitIntent)
		api.GET("/positions", s.listPositions)
		api.GET("/positions/:id", s.getPosition)
		api.POST("/positions/:id/cancel", s.cancelPosition)
		api.GET("/confirmations/:ticket", s.getConfirmation)
		api.POST("/confirmations/:ticket", s.resolveConfirmation)
		api.GET("/capital", s.getCapital)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves the API on addr in a background goroutine.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "error", err)
		}
	}()
	s.logger.Info("api server started", "addr", addr)
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
