package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentjj/internal/hooks"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// registerTools registers every tool with the MCP server.
func (s *Server) registerTools() {
	s.registerEngineTools()
	s.registerSessionTools()
	s.registerQueryTools()
}

// ===== ENGINE TOOLS (fixed contracts) =====

type statusInput struct{}

type statusOutput struct {
	Status    string    `json:"status" jsonschema:"Working copy state: clean or modified"`
	Output    string    `json:"output" jsonschema:"Raw engine output"`
	Timestamp time.Time `json:"timestamp" jsonschema:"When the engine was queried"`
}

type logInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum commits to return (default: 10)"`
}

type logOutput struct {
	Commits []string `json:"commits" jsonschema:"Rendered log lines, newest first"`
	Count   int      `json:"count" jsonschema:"Number of commits returned"`
}

type diffInput struct {
	Revision string `json:"revision,omitempty" jsonschema:"Revision to diff (default: working copy)"`
}

type diffOutput struct {
	Changes   []string `json:"changes" jsonschema:"Change lines, one '<kind> <path>' per file"`
	FileCount int      `json:"fileCount" jsonschema:"Number of changed files"`
}

type runInput struct {
	AgentID   string   `json:"agent_id" jsonschema:"required,Agent identifier"`
	SessionID string   `json:"session_id" jsonschema:"required,Session with a started task"`
	Args      []string `json:"args" jsonschema:"required,Engine arguments without the binary name"`
	Override  bool     `json:"override,omitempty" jsonschema:"Authorize a high-risk command for this call"`
	Reason    string   `json:"reason,omitempty" jsonschema:"Why the override is justified (recorded in the log)"`
}

type runOutput struct {
	Operation oplog.Operation `json:"operation" jsonschema:"The recorded operation"`
}

func (s *Server) registerEngineTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "jj_status",
		Description: "Report whether the working copy is clean or modified",
	}, s.handleStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "jj_log",
		Description: "Return recent commits from the repository log",
	}, s.handleLog)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "jj_diff",
		Description: "Summarize changed files, optionally against a revision",
	}, s.handleDiff)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "jj_run",
		Description: "Execute an engine command inside a session: classified, gated, recorded, conflict-inspected",
	}, s.handleRun)
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, args statusInput) (*mcp.CallToolResult, statusOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "jj_status")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "jj_status")
		s.metrics.RecordInvocation(ctx, "jj_status", time.Since(start), toolErr)
	}()

	res, err := s.executor.Status(ctx)
	if err != nil {
		toolErr = err
		return nil, statusOutput{}, err
	}
	if !res.Success() {
		toolErr = fmt.Errorf("engine exited %d: %s", res.ExitCode, res.Stderr)
		return nil, statusOutput{}, toolErr
	}

	status := "modified"
	if jj.IsCleanStatus(res.Stdout) {
		status = "clean"
	}
	return nil, statusOutput{
		Status:    status,
		Output:    res.Stdout,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *Server) handleLog(ctx context.Context, req *mcp.CallToolRequest, args logInput) (*mcp.CallToolResult, logOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "jj_log")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "jj_log")
		s.metrics.RecordInvocation(ctx, "jj_log", time.Since(start), toolErr)
	}()

	res, err := s.executor.Log(ctx, args.Limit)
	if err != nil {
		toolErr = err
		return nil, logOutput{}, err
	}
	if !res.Success() {
		toolErr = fmt.Errorf("engine exited %d: %s", res.ExitCode, res.Stderr)
		return nil, logOutput{}, toolErr
	}

	commits := jj.ParseLogLines(res.Stdout)
	if commits == nil {
		commits = []string{}
	}
	return nil, logOutput{Commits: commits, Count: len(commits)}, nil
}

func (s *Server) handleDiff(ctx context.Context, req *mcp.CallToolRequest, args diffInput) (*mcp.CallToolResult, diffOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "jj_diff")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "jj_diff")
		s.metrics.RecordInvocation(ctx, "jj_diff", time.Since(start), toolErr)
	}()

	res, err := s.executor.Diff(ctx, args.Revision)
	if err != nil {
		toolErr = err
		return nil, diffOutput{}, err
	}
	if !res.Success() {
		toolErr = fmt.Errorf("engine exited %d: %s", res.ExitCode, res.Stderr)
		return nil, diffOutput{}, toolErr
	}

	changes := jj.ParseDiffSummary(res.Stdout)
	if changes == nil {
		changes = []string{}
	}
	return nil, diffOutput{Changes: changes, FileCount: len(changes)}, nil
}

func (s *Server) handleRun(ctx context.Context, req *mcp.CallToolRequest, args runInput) (*mcp.CallToolResult, runOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "jj_run")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "jj_run")
		s.metrics.RecordInvocation(ctx, "jj_run", time.Since(start), toolErr)
	}()

	hctx := hooks.HookContext{AgentID: args.AgentID, SessionID: args.SessionID}

	var opts []hooks.RunOption
	if args.Override {
		opts = append(opts, hooks.WithOverride(args.Reason))
	}

	op, err := s.coord.RunCommand(ctx, hctx, args.Args, opts...)
	if err != nil {
		// A timeout still records the partial operation; the error is
		// what the agent needs to see.
		toolErr = err
		return nil, runOutput{}, err
	}
	return nil, runOutput{Operation: op}, nil
}
