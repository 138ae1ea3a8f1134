package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/hooks"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/learning"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
	"github.com/fyrsmithlabs/agentjj/internal/telemetry"
)

// Server wires the MCP tool surface to the executor, the hook
// coordinator, and the shared state they maintain.
type Server struct {
	mcp      *mcp.Server
	executor *jj.Executor
	coord    *hooks.Coordinator
	log      *oplog.Log
	tracker  *conflict.Tracker
	learner  *learning.Adapter
	metrics  *Metrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "agentjj").
	Name string

	// Version is the advertised server version (default: "0.1.0").
	Version string

	// Logger for structured logging.
	Logger *logging.Logger

	// Telemetry registers per-tool metrics when set.
	Telemetry *telemetry.Telemetry
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentjj",
		Version: "0.1.0",
		Logger:  logging.Nop(),
	}
}

// NewServer creates an MCP server over the given components. The
// learning adapter is required even when sync is disabled; it still
// answers statistics from the local operation log.
func NewServer(
	cfg *Config,
	executor *jj.Executor,
	coord *hooks.Coordinator,
	log *oplog.Log,
	tracker *conflict.Tracker,
	learner *learning.Adapter,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if coord == nil {
		return nil, fmt.Errorf("hook coordinator is required")
	}
	if log == nil {
		return nil, fmt.Errorf("operation log is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("conflict tracker is required")
	}
	if learner == nil {
		return nil, fmt.Errorf("learning adapter is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		executor: executor,
		coord:    coord,
		log:      log,
		tracker:  tracker,
		learner:  learner,
		metrics:  NewMetrics(cfg.Telemetry, cfg.Logger),
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close shuts down the learning adapter (background syncer, relay,
// store). The executor and trackers hold no resources of their own.
func (s *Server) Close() error {
	s.logger.Info(context.Background(), "closing MCP server")
	if err := s.learner.Close(); err != nil {
		return fmt.Errorf("learning adapter close: %w", err)
	}
	return nil
}
