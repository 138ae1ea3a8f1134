package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/learning"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// ===== OPERATION LOG, CONFLICT, AND LEARNING QUERY TOOLS =====

type operationsListInput struct {
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum operations to return (default: 20)"`
	AgentID   string `json:"agent_id,omitempty" jsonschema:"Only operations recorded by this agent"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Only operations recorded in this session"`
}

type operationsListOutput struct {
	Operations []oplog.Operation `json:"operations" jsonschema:"Matching operations, newest first"`
	Count      int               `json:"count" jsonschema:"Number of operations returned"`
}

type conflictsListInput struct {
	IncludeResolved bool `json:"include_resolved,omitempty" jsonschema:"Also return resolved conflicts"`
}

type conflictsListOutput struct {
	Conflicts []conflict.Conflict `json:"conflicts" jsonschema:"Conflict records, detection order"`
	Open      int                 `json:"open" jsonschema:"Open conflicts"`
	Resolved  int                 `json:"resolved" jsonschema:"Resolved conflicts"`
}

type conflictsInspectInput struct{}

type conflictsInspectOutput struct {
	New      []conflict.Conflict `json:"new" jsonschema:"Conflicts this inspection discovered"`
	Resolved []conflict.Conflict `json:"resolved" jsonschema:"Conflicts this inspection saw resolved"`
	Open     int                 `json:"open" jsonschema:"Open conflicts after the inspection"`
}

type classifyPreviewInput struct {
	Command string `json:"command" jsonschema:"required,Engine command line to classify, e.g. 'abandon --all'"`
}

type learningStatsInput struct {
	Tag string `json:"tag,omitempty" jsonschema:"Learning collection tag (default: configured tag)"`
}

type learningSearchInput struct {
	Query string `json:"query" jsonschema:"required,Similarity query over past operation records"`
	Tag   string `json:"tag,omitempty" jsonschema:"Learning collection tag (default: configured tag)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum records to return (default: 5)"`
}

type learningSearchOutput struct {
	Records []learning.Record `json:"records" jsonschema:"Past operation records, most similar first"`
	Count   int               `json:"count" jsonschema:"Number of records returned"`
}

func (s *Server) registerQueryTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "operations_list",
		Description: "Query the operation log, optionally filtered by agent or session",
	}, s.handleOperationsList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "conflicts_list",
		Description: "List tracked conflicts",
	}, s.handleConflictsList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "conflicts_inspect",
		Description: "Query the engine for current conflicts and reconcile the tracker",
	}, s.handleConflictsInspect)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "classify_preview",
		Description: "Classify a command without running it",
	}, s.handleClassifyPreview)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "learning_stats",
		Description: "Report operation statistics from the learning layer",
	}, s.handleLearningStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "learning_search",
		Description: "Search past operation records by similarity",
	}, s.handleLearningSearch)
}

func (s *Server) handleOperationsList(ctx context.Context, req *mcp.CallToolRequest, args operationsListInput) (*mcp.CallToolResult, operationsListOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "operations_list")
	defer func() {
		s.metrics.DecrementActive(ctx, "operations_list")
		s.metrics.RecordInvocation(ctx, "operations_list", time.Since(start), nil)
	}()

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	var ops []oplog.Operation
	switch {
	case args.SessionID != "":
		ops = s.log.BySession(args.SessionID)
		if len(ops) > limit {
			ops = ops[len(ops)-limit:]
		}
	case args.AgentID != "":
		ops = s.log.ByUser(args.AgentID, limit)
	default:
		ops = s.log.Recent(limit)
	}
	if ops == nil {
		ops = []oplog.Operation{}
	}
	return nil, operationsListOutput{Operations: ops, Count: len(ops)}, nil
}

func (s *Server) handleConflictsList(ctx context.Context, req *mcp.CallToolRequest, args conflictsListInput) (*mcp.CallToolResult, conflictsListOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "conflicts_list")
	defer func() {
		s.metrics.DecrementActive(ctx, "conflicts_list")
		s.metrics.RecordInvocation(ctx, "conflicts_list", time.Since(start), nil)
	}()

	var conflicts []conflict.Conflict
	if args.IncludeResolved {
		conflicts = s.tracker.All()
	} else {
		conflicts = s.tracker.Open()
	}
	if conflicts == nil {
		conflicts = []conflict.Conflict{}
	}

	open, resolved := s.tracker.Counts()
	return nil, conflictsListOutput{Conflicts: conflicts, Open: open, Resolved: resolved}, nil
}

func (s *Server) handleConflictsInspect(ctx context.Context, req *mcp.CallToolRequest, args conflictsInspectInput) (*mcp.CallToolResult, conflictsInspectOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "conflicts_inspect")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "conflicts_inspect")
		s.metrics.RecordInvocation(ctx, "conflicts_inspect", time.Since(start), toolErr)
	}()

	listing, err := s.executor.ResolveList(ctx)
	if err != nil {
		toolErr = fmt.Errorf("conflict query failed: %w", err)
		return nil, conflictsInspectOutput{}, toolErr
	}

	// The inspection was requested, not caused by an operation, so the
	// records carry no originating operation id.
	diff := s.tracker.Inspect("", listing)
	out := conflictsInspectOutput{New: diff.New, Resolved: diff.Resolved}
	if out.New == nil {
		out.New = []conflict.Conflict{}
	}
	if out.Resolved == nil {
		out.Resolved = []conflict.Conflict{}
	}
	out.Open, _ = s.tracker.Counts()
	return nil, out, nil
}

func (s *Server) handleClassifyPreview(ctx context.Context, req *mcp.CallToolRequest, args classifyPreviewInput) (*mcp.CallToolResult, classify.Classification, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "classify_preview")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "classify_preview")
		s.metrics.RecordInvocation(ctx, "classify_preview", time.Since(start), toolErr)
	}()

	if args.Command == "" {
		toolErr = fmt.Errorf("command is required")
		return nil, classify.Classification{}, toolErr
	}
	return nil, classify.Classify(args.Command), nil
}

func (s *Server) handleLearningStats(ctx context.Context, req *mcp.CallToolRequest, args learningStatsInput) (*mcp.CallToolResult, learning.Statistics, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "learning_stats")
	defer func() {
		s.metrics.DecrementActive(ctx, "learning_stats")
		s.metrics.RecordInvocation(ctx, "learning_stats", time.Since(start), nil)
	}()

	return nil, s.learner.Statistics(ctx, args.Tag), nil
}

func (s *Server) handleLearningSearch(ctx context.Context, req *mcp.CallToolRequest, args learningSearchInput) (*mcp.CallToolResult, learningSearchOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "learning_search")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "learning_search")
		s.metrics.RecordInvocation(ctx, "learning_search", time.Since(start), toolErr)
	}()

	if args.Query == "" {
		toolErr = fmt.Errorf("query is required")
		return nil, learningSearchOutput{}, toolErr
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}

	records, err := s.learner.Pull(ctx, args.Tag, args.Query, limit)
	if err != nil {
		toolErr = err
		return nil, learningSearchOutput{}, err
	}
	if records == nil {
		records = []learning.Record{}
	}
	return nil, learningSearchOutput{Records: records, Count: len(records)}, nil
}
