package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentjj/internal/hooks"
)

// ===== SESSION LIFECYCLE TOOLS =====

type sessionStartInput struct {
	AgentID   string `json:"agent_id" jsonschema:"required,Agent identifier"`
	SessionID string `json:"session_id" jsonschema:"required,Session identifier (must not have a task in flight)"`
	Task      string `json:"task,omitempty" jsonschema:"What this task is about"`
}

type sessionStartOutput struct {
	SessionID string      `json:"session_id" jsonschema:"Session identifier"`
	State     hooks.State `json:"state" jsonschema:"Lifecycle state after the call"`
	StartedAt time.Time   `json:"started_at" jsonschema:"When the task started"`
}

type sessionEditInput struct {
	AgentID   string `json:"agent_id" jsonschema:"required,Agent identifier"`
	SessionID string `json:"session_id" jsonschema:"required,Session with a started task"`
}

type sessionEditOutput struct {
	SessionID string      `json:"session_id" jsonschema:"Session identifier"`
	State     hooks.State `json:"state" jsonschema:"Lifecycle state after the call"`
	EditCount int         `json:"edit_count" jsonschema:"Edits recorded so far"`
}

type sessionEndInput struct {
	AgentID   string `json:"agent_id" jsonschema:"required,Agent identifier"`
	SessionID string `json:"session_id" jsonschema:"required,Session with a started task"`
}

type sessionListInput struct{}

type sessionListOutput struct {
	Sessions []hooks.SessionInfo `json:"sessions" jsonschema:"Live sessions, oldest first"`
	Count    int                 `json:"count" jsonschema:"Number of live sessions"`
}

func (s *Server) registerSessionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_start",
		Description: "Open a task for a session (pre_task hook)",
	}, s.handleSessionStart)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_edit",
		Description: "Record that an edit landed in the session (post_edit hook)",
	}, s.handleSessionEdit)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_end",
		Description: "Close the session's task and return everything it recorded (post_task hook)",
	}, s.handleSessionEnd)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_list",
		Description: "List live sessions and their lifecycle states",
	}, s.handleSessionList)
}

func (s *Server) handleSessionStart(ctx context.Context, req *mcp.CallToolRequest, args sessionStartInput) (*mcp.CallToolResult, sessionStartOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "session_start")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "session_start")
		s.metrics.RecordInvocation(ctx, "session_start", time.Since(start), toolErr)
	}()

	hctx := hooks.HookContext{AgentID: args.AgentID, SessionID: args.SessionID, Task: args.Task}
	if err := s.coord.PreTask(ctx, hctx); err != nil {
		toolErr = err
		return nil, sessionStartOutput{}, err
	}

	info, _ := s.coord.Session(args.SessionID)
	return nil, sessionStartOutput{
		SessionID: args.SessionID,
		State:     info.State,
		StartedAt: info.StartedAt,
	}, nil
}

func (s *Server) handleSessionEdit(ctx context.Context, req *mcp.CallToolRequest, args sessionEditInput) (*mcp.CallToolResult, sessionEditOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "session_edit")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "session_edit")
		s.metrics.RecordInvocation(ctx, "session_edit", time.Since(start), toolErr)
	}()

	hctx := hooks.HookContext{AgentID: args.AgentID, SessionID: args.SessionID}
	if err := s.coord.PostEdit(ctx, hctx); err != nil {
		toolErr = err
		return nil, sessionEditOutput{}, err
	}

	info, _ := s.coord.Session(args.SessionID)
	return nil, sessionEditOutput{
		SessionID: args.SessionID,
		State:     info.State,
		EditCount: info.EditCount,
	}, nil
}

func (s *Server) handleSessionEnd(ctx context.Context, req *mcp.CallToolRequest, args sessionEndInput) (*mcp.CallToolResult, hooks.TaskSummary, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "session_end")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "session_end")
		s.metrics.RecordInvocation(ctx, "session_end", time.Since(start), toolErr)
	}()

	hctx := hooks.HookContext{AgentID: args.AgentID, SessionID: args.SessionID}
	summary, err := s.coord.PostTask(ctx, hctx)
	if err != nil {
		toolErr = err
		return nil, hooks.TaskSummary{}, err
	}
	return nil, summary, nil
}

func (s *Server) handleSessionList(ctx context.Context, req *mcp.CallToolRequest, args sessionListInput) (*mcp.CallToolResult, sessionListOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "session_list")
	defer func() {
		s.metrics.DecrementActive(ctx, "session_list")
		s.metrics.RecordInvocation(ctx, "session_list", time.Since(start), nil)
	}()

	sessions := s.coord.Sessions()
	return nil, sessionListOutput{Sessions: sessions, Count: len(sessions)}, nil
}
