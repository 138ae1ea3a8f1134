// Package http exposes the coordination layer over a small REST
// surface for operators and dashboards: health, the operation log,
// tracked conflicts, live sessions, learning statistics, and a
// Prometheus metrics endpoint. Agents use the MCP surface; this one
// exists so humans and monitors can watch a swarm without speaking
// MCP.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/hooks"
	"github.com/fyrsmithlabs/agentjj/internal/learning"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
	"github.com/fyrsmithlabs/agentjj/internal/secrets"
)

// Server serves the observation API.
type Server struct {
	echo     *echo.Echo
	log      *oplog.Log
	tracker  *conflict.Tracker
	coord    *hooks.Coordinator
	learner  *learning.Adapter
	scrubber secrets.Scrubber
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// NewServer creates the observation server over the shared components.
// The coordinator, learning adapter, and scrubber are optional; their
// routes degrade (sessions empty, stats local-only, scrub pass-through)
// when absent.
func NewServer(
	log *oplog.Log,
	tracker *conflict.Tracker,
	coord *hooks.Coordinator,
	learner *learning.Adapter,
	scrubber secrets.Scrubber,
	logger *logging.Logger,
	cfg *Config,
) (*Server, error) {
	if log == nil {
		return nil, fmt.Errorf("operation log is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("conflict tracker is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:8611"}
	}
	if scrubber == nil {
		scrubber = &secrets.NoopScrubber{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(Instrument())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
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
		echo:     e,
		log:      log,
		tracker:  tracker,
		coord:    coord,
		learner:  learner,
		scrubber: scrubber,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/operations", s.handleOperations)
	v1.GET("/operations/:id", s.handleOperation)
	v1.GET("/conflicts", s.handleConflicts)
	v1.GET("/sessions", s.handleSessions)
	v1.GET("/sessions/:id", s.handleSession)
	v1.GET("/stats", s.handleStats)
	v1.POST("/classify", s.handleClassify)
	v1.POST("/scrub", s.handleScrub)
}

// Echo returns the underlying echo instance so hosts can mount extra
// routes before Start.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	open, _ := s.tracker.Counts()
	resp := HealthResponse{
		Status:        "ok",
		OpenConflicts: open,
		LogSize:       s.log.Size(),
		LogCapacity:   s.log.Capacity(),
		Timestamp:     time.Now().UTC(),
	}
	if s.coord != nil {
		resp.ActiveSessions = s.coord.ActiveSessions()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOperations(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	var ops []oplog.Operation
	switch {
	case c.QueryParam("session_id") != "":
		ops = s.log.BySession(c.QueryParam("session_id"))
		if len(ops) > limit {
			ops = ops[len(ops)-limit:]
		}
	case c.QueryParam("agent_id") != "":
		ops = s.log.ByUser(c.QueryParam("agent_id"), limit)
	case c.QueryParam("within") != "":
		window, err := time.ParseDuration(c.QueryParam("within"))
		if err != nil || window <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "within must be a positive duration, e.g. 15m")
		}
		ops = s.log.Within(window)
		if len(ops) > limit {
			ops = ops[len(ops)-limit:]
		}
	default:
		ops = s.log.Recent(limit)
	}

	return c.JSON(http.StatusOK, OperationsResponse{Operations: ops, Count: len(ops)})
}

func (s *Server) handleOperation(c echo.Context) error {
	op, ok := s.log.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "operation not found or evicted")
	}
	return c.JSON(http.StatusOK, op)
}

func (s *Server) handleConflicts(c echo.Context) error {
	open, resolved := s.tracker.Counts()

	var conflicts []conflict.Conflict
	if raw := c.QueryParam("include_resolved"); raw == "true" || raw == "1" {
		conflicts = s.tracker.All()
	} else {
		conflicts = s.tracker.Open()
	}

	return c.JSON(http.StatusOK, ConflictsResponse{
		Conflicts: conflicts,
		Open:      open,
		Resolved:  resolved,
	})
}

func (s *Server) handleSessions(c echo.Context) error {
	var sessions []hooks.SessionInfo
	if s.coord != nil {
		sessions = s.coord.Sessions()
	}
	return c.JSON(http.StatusOK, SessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleSession(c echo.Context) error {
	if s.coord == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no hook coordinator attached")
	}
	info, ok := s.coord.Session(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleStats(c echo.Context) error {
	if s.learner == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no learning adapter attached")
	}
	stats := s.learner.Statistics(c.Request().Context(), c.QueryParam("tag"))
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Command == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command field is required")
	}
	return c.JSON(http.StatusOK, ClassifyResponse{
		Command:        req.Command,
		Classification: classify.Classify(req.Command),
	})
}

func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug(c.Request().Context(), "scrubbed content",
		zap.Int("findings", result.TotalFindings),
		zap.Duration("duration", result.Duration),
	)

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.TotalFindings,
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
