// Package server exposes the registry over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"kin-go/internal/kin"
	"kin-go/internal/metrics"
)

// Server serves the read, confirm and sync-trigger API.
type Server struct {
	echo    *echo.Echo
	orch    *kin.Orchestrator
	service *kin.Service
	metrics *metrics.Recorder
	logger  kin.Logger
	addr    string
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// New creates a Server listening on addr. A nil recorder disables /metrics
// and request metrics.
func New(orch *kin.Orchestrator, rec *metrics.Recorder, logger kin.Logger, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		orch:    orch,
		service: orch.Service(),
		metrics: rec,
		logger:  logger,
		addr:    addr,
	}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(s.observe)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.health)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := s.echo.Group("/api")

	people := api.Group("/people")
	people.GET("", s.listPeople)
	people.GET("/:id", s.getPerson)
	people.GET("/:id/timeline", s.timeline)
	people.POST("/:id/refresh", s.refreshPerson)

	api.GET("/relationships/:a/:b", s.getRelationship)
	api.GET("/stats", s.stats)

	pending := api.Group("/pending")
	pending.GET("", s.listPending)
	pending.POST("/:id/confirm", s.confirm)
	pending.POST("/:id/reject", s.reject)

	sync := api.Group("/sync")
	sync.POST("", s.syncAll)
	sync.POST("/sources/:name", s.syncSource)
	sync.POST("/relationships", s.syncRelationships)
	sync.POST("/strengths", s.syncStrengths)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe logs each request and records it in the metrics.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		elapsed := time.Since(start)
		status := c.Response().Status

		s.logger.Debug("request served", "method", c.Request().Method, "path", c.Request().URL.Path, "status", status, "elapsed", elapsed)
		if s.metrics != nil {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.RequestServed(c.Request().Method, route, status, elapsed)
		}
		return nil
	}
}

// handleError maps the kin error taxonomy onto status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	case errors.Is(err, kin.ErrInput):
		code, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, kin.ErrNotFound):
		code, message = http.StatusNotFound, err.Error()
	case errors.Is(err, kin.ErrConflict):
		code, message = http.StatusConflict, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		code, message = http.StatusGatewayTimeout, err.Error()
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("api is returning an error", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorResponse{Message: message})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
