// Package http provides the HTTP API for memoryd.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/consolidation"
	"github.com/fyrsmithlabs/memoryd/internal/engine"
	"github.com/fyrsmithlabs/memoryd/internal/forgetting"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
)

// Server provides HTTP endpoints for memoryd.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9030,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(
				logging.WithRequestID(c.Request().Context(), requestID)))
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", requestID),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: eng,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/memories", s.handleIngest)
	v1.GET("/memories", s.handleRead)
	v1.POST("/commit", s.handleCommit)
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/forget", s.handleForget)
	v1.POST("/consolidate", s.handleConsolidate)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleIngest writes one extracted memory object.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if req.Memory == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "memory field is required")
	}

	item, err := s.engine.Ingest(c.Request().Context(), req.UserID, req.Memory, engine.IngestOptions{
		Source:     req.Source,
		ObservedAt: req.ObservedAt,
	})
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "ingest failed")
	}
	return c.JSON(http.StatusOK, item)
}

// handleRead returns the live nodes at a path, rendered for tools.
func (s *Server) handleRead(c echo.Context) error {
	userID := c.QueryParam("user_id")
	path := c.QueryParam("path")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id parameter is required")
	}
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path parameter is required")
	}

	result, err := s.engine.ReadMemory(c.Request().Context(), userID, path)
	if err != nil {
		s.logger.Error("read failed", zap.String("path", path), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "read failed")
	}
	return c.JSON(http.StatusOK, result)
}

// handleCommit runs a batch of extracted memories through ingestion.
func (s *Server) handleCommit(c echo.Context) error {
	var req CommitRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid commit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}

	input := engine.CommitInput{
		UserID:     req.UserID,
		Dialogue:   req.Dialogue,
		Source:     req.Source,
		ObservedAt: req.ObservedAt,
	}
	if req.Memories != nil {
		input.Extracted = &memory.ExtractionPayload{Memories: req.Memories}
	}

	result, err := s.engine.Commit(c.Request().Context(), input)
	if err != nil {
		s.logger.Error("commit failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "commit failed")
	}
	return c.JSON(http.StatusOK, result)
}

// handleRetrieve plans and executes recall for a query.
func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid retrieve request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	result, err := s.engine.Retrieve(c.Request().Context(), req.UserID, req.Query, retrieval.Options{
		TopK: req.TopK,
	})
	if err != nil {
		s.logger.Error("retrieve failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retrieve failed")
	}
	return c.JSON(http.StatusOK, result)
}

// handleForget applies the retention policy for one user.
func (s *Server) handleForget(c echo.Context) error {
	var req ForgetRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid forget request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if req.Capacity < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "capacity must be >= 1")
	}

	plan, err := s.engine.Forget(c.Request().Context(), req.UserID, forgetting.Policy{
		Capacity:          req.Capacity,
		MinRetentionScore: req.MinRetentionScore,
		HalfLifeDays:      req.HalfLifeDays,
	})
	if err != nil {
		s.logger.Error("forget failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "forget failed")
	}
	return c.JSON(http.StatusOK, ForgetResponse{
		Kept:        len(plan.Keep),
		Archived:    len(plan.Archive),
		ArchivedIDs: plan.ArchivedIDs,
	})
}

// handleConsolidate distills repeated episodes into semantic rules.
func (s *Server) handleConsolidate(c echo.Context) error {
	var req ConsolidateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid consolidate request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}

	items, err := s.engine.Consolidate(c.Request().Context(), req.UserID, consolidation.Options{
		MinSupport:          req.MinSupport,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if err != nil {
		s.logger.Error("consolidate failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "consolidate failed")
	}
	if items == nil {
		items = []*engine.ItemResult{}
	}
	return c.JSON(http.StatusOK, ConsolidateResponse{Items: items})
}

// Start starts the HTTP server.
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
