package mcp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/hooks"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/learning"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// fakeEngine answers per verb. The zero value exits 0 with "ok"; the
// resolve default mirrors jj's non-zero "no conflicts" exit.
type fakeEngine struct {
	mu      sync.Mutex
	results map[string]jj.Result
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{results: make(map[string]jj.Result)}
	e.results["resolve"] = jj.Result{
		ExitCode: 2,
		Stderr:   "error: No conflicts found at this revision\n",
	}
	return e
}

func (e *fakeEngine) set(verb string, res jj.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[verb] = res
}

func (e *fakeEngine) Run(_ context.Context, cmd jj.Command) (*jj.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := jj.Result{Stdout: "ok\n"}
	if len(cmd.Args) > 0 {
		if stored, ok := e.results[cmd.Args[0]]; ok {
			res = stored
		}
	}
	res.Args = append([]string(nil), cmd.Args...)
	res.StartedAt = time.Now()
	res.Duration = time.Millisecond
	return &res, nil
}

type serverFixture struct {
	server *Server
	engine *fakeEngine
	log    *oplog.Log
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	engine := newFakeEngine()
	cfg := config.New()
	cfg.Engine.RepoPath = t.TempDir()
	executor, err := jj.NewExecutor(cfg.Engine, jj.WithRunner(engine))
	require.NoError(t, err)

	log := oplog.MustNewLog(64)
	tracker := conflict.NewTracker()
	learner, err := learning.NewAdapter(nil, log)
	require.NoError(t, err)
	coord, err := hooks.NewCoordinator(executor, log, tracker)
	require.NoError(t, err)

	server, err := NewServer(nil, executor, coord, log, tracker, learner)
	require.NoError(t, err)
	return &serverFixture{server: server, engine: engine, log: log}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	f := newServerFixture(t)
	s := f.server

	_, err := NewServer(nil, nil, s.coord, s.log, s.tracker, s.learner)
	assert.Error(t, err)
	_, err = NewServer(nil, s.executor, nil, s.log, s.tracker, s.learner)
	assert.Error(t, err)
	_, err = NewServer(nil, s.executor, s.coord, nil, s.tracker, s.learner)
	assert.Error(t, err)
	_, err = NewServer(nil, s.executor, s.coord, s.log, nil, s.learner)
	assert.Error(t, err)
	_, err = NewServer(nil, s.executor, s.coord, s.log, s.tracker, nil)
	assert.Error(t, err)
}

func TestStatusTool(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	f.engine.set("status", jj.Result{Stdout: "The working copy has no changes.\n"})
	_, out, err := f.server.handleStatus(ctx, nil, statusInput{})
	require.NoError(t, err)
	assert.Equal(t, "clean", out.Status)
	assert.Contains(t, out.Output, "no changes")
	assert.False(t, out.Timestamp.IsZero())

	f.engine.set("status", jj.Result{Stdout: "M src/main.go\n"})
	_, out, err = f.server.handleStatus(ctx, nil, statusInput{})
	require.NoError(t, err)
	assert.Equal(t, "modified", out.Status)
}

func TestStatusTool_EngineFailure(t *testing.T) {
	f := newServerFixture(t)

	f.engine.set("status", jj.Result{ExitCode: 1, Stderr: "there is no jj repo here\n"})
	_, _, err := f.server.handleStatus(context.Background(), nil, statusInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 1")
}

func TestLogTool(t *testing.T) {
	f := newServerFixture(t)

	f.engine.set("log", jj.Result{Stdout: "@ abc fix parser\n o def add tests\n\n"})
	_, out, err := f.server.handleLog(context.Background(), nil, logInput{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Commits, 2)
	assert.Contains(t, out.Commits[0], "fix parser")
}

func TestDiffTool(t *testing.T) {
	f := newServerFixture(t)

	f.engine.set("diff", jj.Result{Stdout: "M src/main.go\nA docs/readme.md\n"})
	_, out, err := f.server.handleDiff(context.Background(), nil, diffInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.FileCount)
	assert.Equal(t, []string{"M src/main.go", "A docs/readme.md"}, out.Changes)
}

func TestDiffTool_NoChanges(t *testing.T) {
	f := newServerFixture(t)

	f.engine.set("diff", jj.Result{Stdout: ""})
	_, out, err := f.server.handleDiff(context.Background(), nil, diffInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.FileCount)
	assert.NotNil(t, out.Changes)
}

func TestSessionLifecycleTools(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, started, err := f.server.handleSessionStart(ctx, nil, sessionStartInput{
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Task:      "refactor the parser",
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.StateTaskStarted, started.State)
	assert.False(t, started.StartedAt.IsZero())

	_, edited, err := f.server.handleSessionEdit(ctx, nil, sessionEditInput{
		AgentID:   "agent-1",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, hooks.StateEditing, edited.State)
	assert.Equal(t, 1, edited.EditCount)

	_, listed, err := f.server.handleSessionList(ctx, nil, sessionListInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.Count)

	_, summary, err := f.server.handleSessionEnd(ctx, nil, sessionEndInput{
		AgentID:   "agent-1",
		SessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", summary.SessionID)
	assert.Equal(t, 1, summary.EditCount)

	_, listed, err = f.server.handleSessionList(ctx, nil, sessionListInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, listed.Count)
}

func TestSessionEditTool_WithoutStart(t *testing.T) {
	f := newServerFixture(t)

	_, _, err := f.server.handleSessionEdit(context.Background(), nil, sessionEditInput{
		AgentID:   "agent-1",
		SessionID: "never-started",
	})
	require.ErrorIs(t, err, hooks.ErrInvalidState)
}

func TestRunTool(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, _, err := f.server.handleSessionStart(ctx, nil, sessionStartInput{
		AgentID: "agent-1", SessionID: "sess-1",
	})
	require.NoError(t, err)

	_, out, err := f.server.handleRun(ctx, nil, runInput{
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Args:      []string{"status"},
	})
	require.NoError(t, err)
	assert.True(t, out.Operation.Success)
	assert.Equal(t, "agent-1", out.Operation.AgentID)
	assert.Equal(t, 1, f.log.Size())
}

func TestRunTool_HighRiskGate(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, _, err := f.server.handleSessionStart(ctx, nil, sessionStartInput{
		AgentID: "agent-1", SessionID: "sess-1",
	})
	require.NoError(t, err)

	_, _, err = f.server.handleRun(ctx, nil, runInput{
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Args:      []string{"abandon", "--all"},
	})
	require.ErrorIs(t, err, hooks.ErrHighRisk)
	assert.Equal(t, 0, f.log.Size())

	_, out, err := f.server.handleRun(ctx, nil, runInput{
		AgentID:   "agent-1",
		SessionID: "sess-1",
		Args:      []string{"abandon", "--all"},
		Override:  true,
		Reason:    "workspace teardown approved",
	})
	require.NoError(t, err)
	assert.True(t, out.Operation.Success)
}

func TestOperationsListTool(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		agent := fmt.Sprintf("agent-%d", i%2)
		f.log.Append(oplog.Operation{
			ID:      oplog.NewID(),
			Args:    []string{"status"},
			AgentID: agent,
			Success: true,
		})
	}

	_, out, err := f.server.handleOperationsList(ctx, nil, operationsListInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)

	_, out, err = f.server.handleOperationsList(ctx, nil, operationsListInput{AgentID: "agent-0"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
}

func TestConflictTools(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	f.engine.set("resolve", jj.Result{Stdout: "src/main.go    2-sided conflict\n"})
	_, inspected, err := f.server.handleConflictsInspect(ctx, nil, conflictsInspectInput{})
	require.NoError(t, err)
	require.Len(t, inspected.New, 1)
	assert.Equal(t, "src/main.go", inspected.New[0].Path)
	assert.Equal(t, 1, inspected.Open)

	_, listed, err := f.server.handleConflictsList(ctx, nil, conflictsListInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.Open)
	require.Len(t, listed.Conflicts, 1)

	// The path drops out of the listing: resolved, kept on record.
	f.engine.set("resolve", jj.Result{
		ExitCode: 2,
		Stderr:   "error: No conflicts found at this revision\n",
	})
	_, inspected, err = f.server.handleConflictsInspect(ctx, nil, conflictsInspectInput{})
	require.NoError(t, err)
	require.Len(t, inspected.Resolved, 1)
	assert.Equal(t, 0, inspected.Open)

	_, listed, err = f.server.handleConflictsList(ctx, nil, conflictsListInput{IncludeResolved: true})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.Resolved)
}

func TestClassifyPreviewTool(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	_, cls, err := f.server.handleClassifyPreview(ctx, nil, classifyPreviewInput{Command: "status"})
	require.NoError(t, err)
	assert.Equal(t, classify.ComplexityLow, cls.Complexity)
	assert.Equal(t, classify.RiskLow, cls.Risk)
	assert.Empty(t, cls.SuggestedActions)

	_, cls, err = f.server.handleClassifyPreview(ctx, nil, classifyPreviewInput{Command: "abandon --all"})
	require.NoError(t, err)
	assert.Equal(t, classify.ComplexityHigh, cls.Complexity)
	assert.Equal(t, classify.RiskHigh, cls.Risk)
	assert.Contains(t, cls.SuggestedActions, classify.ActionBackup)
	assert.Contains(t, cls.SuggestedActions, classify.ActionVerify)

	_, _, err = f.server.handleClassifyPreview(ctx, nil, classifyPreviewInput{})
	assert.Error(t, err)
}

func TestLearningStatsTool(t *testing.T) {
	f := newServerFixture(t)

	f.log.Append(oplog.Operation{ID: oplog.NewID(), Args: []string{"status"}, Success: true})
	f.log.Append(oplog.Operation{ID: oplog.NewID(), Args: []string{"rebase"}, Success: false})

	_, stats, err := f.server.handleLearningStats(context.Background(), nil, learningStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	assert.Equal(t, "local", stats.Source)
}

func TestLearningSearchTool_RequiresQuery(t *testing.T) {
	f := newServerFixture(t)

	_, _, err := f.server.handleLearningSearch(context.Background(), nil, learningSearchInput{})
	assert.Error(t, err)
}
