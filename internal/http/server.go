// Package http provides the HTTP API for docingest.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docingest/internal/authflow"
	"github.com/fyrsmithlabs/docingest/internal/connections"
	"github.com/fyrsmithlabs/docingest/internal/ingest"
	"github.com/fyrsmithlabs/docingest/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server wires the ingestion pipeline, authorization flow, and search path
// into HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	pipeline *ingest.Pipeline
	flow     *authflow.Flow
	conns    *connections.Store
	store    vectorstore.Store
	embedder vectorstore.Embedder
	logger   *zap.Logger
	config   Config
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(
	cfg Config,
	pipeline *ingest.Pipeline,
	flow *authflow.Flow,
	conns *connections.Store,
	store vectorstore.Store,
	embedder vectorstore.Embedder,
	logger *zap.Logger,
) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if flow == nil {
		return nil, fmt.Errorf("authorization flow is required")
	}
	if conns == nil {
		return nil, fmt.Errorf("connection store is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		pipeline: pipeline,
		flow:     flow,
		conns:    conns,
		store:    store,
		embedder: embedder,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleSubmitIngest)
	v1.GET("/ingest/jobs", s.handleListJobs)
	v1.GET("/ingest/jobs/:id", s.handleGetJob)
	v1.POST("/collections", s.handleEnsureCollection)
	v1.POST("/search", s.handleSearch)
	v1.DELETE("/documents/:doc_id", s.handleDeleteDocument)
	v1.GET("/connections", s.handleListConnections)
	v1.GET("/connections/:id/status", s.handleConnectionStatus)
	v1.DELETE("/connections/:id", s.handleRevokeConnection)

	oauth := s.echo.Group("/oauth")
	oauth.GET("/url", s.handleAuthorizationURL)
	oauth.GET("/start", s.handleAuthorizationStart)
	oauth.GET("/callback", s.handleCallback)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
