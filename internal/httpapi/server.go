// Package httpapi exposes the search and summarization engine over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/provenanced/internal/chunkstore"
	"github.com/fyrsmithlabs/provenanced/internal/citation"
	"github.com/fyrsmithlabs/provenanced/internal/engine"
	"github.com/fyrsmithlabs/provenanced/internal/summarize"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server serves the provenanced HTTP API.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	logger *zap.Logger
	config Config
}

// NewServer creates the HTTP server around an engine.
func NewServer(eng *engine.Engine, logger *zap.Logger, cfg Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
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
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
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

	v1 := s.echo.Group("/api/v1")
	v1.POST("/search", s.handleSearch)
	v1.POST("/summarize", s.handleSummarize)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSearch runs a fused multi-backend search.
func (s *Server) handleSearch(c echo.Context) error {
	var req engine.SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	fused, err := s.engine.Search(c.Request().Context(), req)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, fused)
}

// handleSummarize generates a grounded summary with provenance.
func (s *Server) handleSummarize(c echo.Context) error {
	var req engine.SummarizeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid summarize request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.engine.Summarize(c.Request().Context(), req)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// mapError translates engine errors into HTTP status codes. Unclassified
// errors become 500 without leaking internals to the client.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, engine.ErrEmptyQuery),
		errors.Is(err, engine.ErrUnknownMode),
		errors.Is(err, engine.ErrModeUnavailable),
		errors.Is(err, citation.ErrInvalidGroundingInput),
		errors.Is(err, summarize.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, chunkstore.ErrDocumentNotFound),
		errors.Is(err, chunkstore.ErrChunkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, summarize.ErrOverCapacity):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, summarize.ErrSummarizationUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; 499 is conventional for this.
		return echo.NewHTTPError(499, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
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
