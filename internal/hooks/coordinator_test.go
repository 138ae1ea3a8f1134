package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// stubRunner fakes the engine per verb. The zero value answers every
// command with exit 0 and reports no conflicts.
type stubRunner struct {
	mu      sync.Mutex
	results map[string]jj.Result
	calls   [][]string

	timedOut bool
}

func newStubRunner() *stubRunner {
	r := &stubRunner{results: make(map[string]jj.Result)}
	// jj resolve --list exits non-zero when nothing conflicts.
	r.results["resolve"] = jj.Result{
		ExitCode: 2,
		Stderr:   "error: No conflicts found at this revision\n",
	}
	return r
}

func (r *stubRunner) set(verb string, res jj.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[verb] = res
}

func (r *stubRunner) callsFor(verb string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, args := range r.calls {
		if len(args) > 0 && args[0] == verb {
			n++
		}
	}
	return n
}

func (r *stubRunner) Run(_ context.Context, cmd jj.Command) (*jj.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	args := make([]string, len(cmd.Args))
	copy(args, cmd.Args)
	r.calls = append(r.calls, args)

	res := jj.Result{Stdout: "ok\n"}
	if len(cmd.Args) > 0 {
		if stored, ok := r.results[cmd.Args[0]]; ok {
			res = stored
		}
	}
	res.Args = args
	res.StartedAt = time.Now()
	res.Duration = time.Millisecond

	if r.timedOut {
		res.ExitCode = -1
		return &res, fmt.Errorf("%w after %s: %s", jj.ErrTimedOut, cmd.Timeout, cmd.Bin)
	}
	return &res, nil
}

// collectSyncer records everything the coordinator forwards.
type collectSyncer struct {
	mu      sync.Mutex
	ops     []oplog.Operation
	batches [][]oplog.Operation
	tags    []string
	fail    bool
}

func (s *collectSyncer) SyncOperation(_ context.Context, op oplog.Operation, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unreachable")
	}
	s.ops = append(s.ops, op)
	s.tags = append(s.tags, tag)
	return nil
}

func (s *collectSyncer) SyncBatch(_ context.Context, ops []oplog.Operation, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unreachable")
	}
	s.batches = append(s.batches, ops)
	s.tags = append(s.tags, tag)
	return nil
}

type fixture struct {
	coord   *Coordinator
	runner  *stubRunner
	log     *oplog.Log
	tracker *conflict.Tracker
	logs    *logging.TestLogger
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	runner := newStubRunner()
	cfg := config.New()
	cfg.Engine.RepoPath = t.TempDir()
	ex, err := jj.NewExecutor(cfg.Engine, jj.WithRunner(runner))
	require.NoError(t, err)

	logs := logging.NewTestLogger()
	log := oplog.MustNewLog(128)
	tracker := conflict.NewTracker()

	opts = append([]Option{WithLogger(logs.Logger)}, opts...)
	coord, err := NewCoordinator(ex, log, tracker, opts...)
	require.NoError(t, err)

	return &fixture{coord: coord, runner: runner, log: log, tracker: tracker, logs: logs}
}

func hookCtx(agent, session string) HookContext {
	return HookContext{AgentID: agent, SessionID: session, Task: "refactor parser"}
}

func TestPreTaskOpensSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hctx := hookCtx("agent-1", "sess-1")

	require.NoError(t, f.coord.PreTask(context.Background(), hctx))

	assert.Equal(t, StateTaskStarted, f.coord.State("sess-1"))
	assert.Equal(t, 1, f.coord.ActiveSessions())

	info, ok := f.coord.Session("sess-1")
	require.True(t, ok)
	assert.Equal(t, "agent-1", info.AgentID)
	assert.Equal(t, "refactor parser", info.Task)
}

func TestPreTaskWhileStartedIsInvalidState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hctx := hookCtx("agent-1", "sess-1")

	require.NoError(t, f.coord.PreTask(context.Background(), hctx))
	err := f.coord.PreTask(context.Background(), hctx)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPostEditBeforePreTaskIsInvalidState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.coord.PostEdit(context.Background(), hookCtx("agent-1", "sess-unknown"))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPostTaskBeforePreTaskIsInvalidState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.coord.PostTask(context.Background(), hookCtx("agent-1", "sess-unknown"))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestHookContextValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.coord.PreTask(context.Background(), HookContext{AgentID: "", SessionID: "sess-1"})
	require.ErrorIs(t, err, jj.ErrInvalidInput)

	err = f.coord.PreTask(context.Background(), HookContext{AgentID: "agent 1", SessionID: "sess-1"})
	require.ErrorIs(t, err, jj.ErrInvalidInput)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")

	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op1, err := f.coord.RunCommand(ctx, hctx, []string{"status"})
	require.NoError(t, err)
	assert.True(t, op1.Success)

	require.NoError(t, f.coord.PostEdit(ctx, hctx))
	require.NoError(t, f.coord.PostEdit(ctx, hctx))
	assert.Equal(t, StateEditing, f.coord.State("sess-1"))

	op2, err := f.coord.RunCommand(ctx, hctx, []string{"new", "-m", "wip"})
	require.NoError(t, err)

	summary, err := f.coord.PostTask(ctx, hctx)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", summary.SessionID)
	assert.Equal(t, 2, summary.EditCount)
	require.Len(t, summary.Operations, 2)
	assert.Equal(t, op1.ID, summary.Operations[0].ID)
	assert.Equal(t, op2.ID, summary.Operations[1].ID)

	// The session id is reusable once closed.
	assert.Equal(t, StateIdle, f.coord.State("sess-1"))
	require.NoError(t, f.coord.PreTask(ctx, hctx))
}

func TestRunCommandRequiresStartedTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.coord.RunCommand(context.Background(), hookCtx("agent-1", "sess-1"), []string{"status"})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, f.log.Size())
}

func TestGateRefusesHighRiskWithoutOverride(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	_, err := f.coord.RunCommand(ctx, hctx, []string{"abandon", "--all"})
	require.ErrorIs(t, err, ErrHighRisk)

	// The engine never ran and nothing was recorded.
	assert.Equal(t, 0, f.runner.callsFor("abandon"))
	assert.Equal(t, 0, f.log.Size())
	f.logs.AssertLogged(t, zapcore.WarnLevel, "refused by gate")
}

func TestGateOverrideExecutesHighRisk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op, err := f.coord.RunCommand(ctx, hctx, []string{"abandon", "--all"}, WithOverride("operator approved"))
	require.NoError(t, err)
	assert.True(t, op.Success)
	assert.Equal(t, 1, f.runner.callsFor("abandon"))
	assert.Equal(t, 1, f.log.Size())
	f.logs.AssertLogged(t, zapcore.WarnLevel, "overridden")
}

func TestGateLiftedByConfiguration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithAllowHighRisk(true))
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	_, err := f.coord.RunCommand(ctx, hctx, []string{"abandon", "--all"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.runner.callsFor("abandon"))
}

func TestEngineFailureIsRecordedNotReturned(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.set("rebase", jj.Result{ExitCode: 3, Stderr: "error: no such revision\n"})

	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op, err := f.coord.RunCommand(ctx, hctx, []string{"rebase", "-d", "gone"})
	require.NoError(t, err)
	assert.False(t, op.Success)
	assert.Equal(t, 3, op.ExitCode)
	assert.Contains(t, op.Stderr, "no such revision")
	assert.Equal(t, 1, f.log.Size())
}

func TestTimedOutCommandIsRecordedAndReturned(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.timedOut = true

	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op, err := f.coord.RunCommand(ctx, hctx, []string{"status"})
	require.ErrorIs(t, err, jj.ErrTimedOut)

	// No silent loss: the timeout still left an audit record.
	assert.Equal(t, -1, op.ExitCode)
	assert.False(t, op.Success)
	assert.Equal(t, 1, f.log.Size())
}

func TestMutatingCommandTriggersConflictInspection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.set("resolve", jj.Result{
		Stdout: "src/api.go    2-sided conflict\nsrc/db.go    2-sided conflict\n",
	})

	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op, err := f.coord.RunCommand(ctx, hctx, []string{"rebase", "-d", "main"})
	require.NoError(t, err)
	assert.True(t, op.HasConflict)
	assert.Equal(t, 1, f.runner.callsFor("resolve"))

	open := f.tracker.Open()
	require.Len(t, open, 2)
	assert.Equal(t, op.ID, open[0].OperationID)

	// A later mutating command after one conflict is fixed resolves
	// exactly that record.
	f.runner.set("resolve", jj.Result{
		Stdout: "src/db.go    2-sided conflict\n",
	})
	op2, err := f.coord.RunCommand(ctx, hctx, []string{"new"})
	require.NoError(t, err)
	assert.False(t, op2.HasConflict)

	open = f.tracker.Open()
	require.Len(t, open, 1)
	assert.Equal(t, "src/db.go", open[0].Path)

	_, resolved := f.tracker.Counts()
	assert.Equal(t, 1, resolved)
}

func TestReadOnlyCommandSkipsInspection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	_, err := f.coord.RunCommand(ctx, hctx, []string{"status"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.runner.callsFor("resolve"))
}

func TestPostTaskSuggestsSquashAfterManyMutations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithSquashThreshold(2))
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	for i := 0; i < 2; i++ {
		_, err := f.coord.RunCommand(ctx, hctx, []string{"new", "-m", fmt.Sprintf("step-%d", i)})
		require.NoError(t, err)
	}

	summary, err := f.coord.PostTask(ctx, hctx)
	require.NoError(t, err)
	assert.Equal(t, []classify.Action{classify.ActionSquash}, summary.SuggestedActions)
}

func TestSyncerReceivesOperationsAndBatches(t *testing.T) {
	t.Parallel()

	syncer := &collectSyncer{}
	f := newFixture(t, WithSyncer(syncer), WithTag("proj-x"))
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op, err := f.coord.RunCommand(ctx, hctx, []string{"status"})
	require.NoError(t, err)

	_, err = f.coord.PostTask(ctx, hctx)
	require.NoError(t, err)

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	require.Len(t, syncer.ops, 1)
	assert.Equal(t, op.ID, syncer.ops[0].ID)
	require.Len(t, syncer.batches, 1)
	assert.Equal(t, []string{"proj-x", "proj-x"}, syncer.tags)
}

func TestSyncFailureNeverBlocksCommands(t *testing.T) {
	t.Parallel()

	syncer := &collectSyncer{fail: true}
	f := newFixture(t, WithSyncer(syncer))
	ctx := context.Background()
	hctx := hookCtx("agent-1", "sess-1")
	require.NoError(t, f.coord.PreTask(ctx, hctx))

	op, err := f.coord.RunCommand(ctx, hctx, []string{"status"})
	require.NoError(t, err)
	assert.True(t, op.Success)
	assert.Equal(t, 1, f.log.Size())
	f.logs.AssertLogged(t, zapcore.WarnLevel, "learning sync failed")
}

func TestConcurrentSessionsAreIndependent(t *testing.T) {
	t.Parallel()

	const (
		workers  = 8
		commands = 3
	)

	f := newFixture(t)
	ctx := context.Background()

	summaries := make([]TaskSummary, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			hctx := hookCtx(fmt.Sprintf("agent-%d", w), fmt.Sprintf("sess-%d", w))
			if err := f.coord.PreTask(ctx, hctx); err != nil {
				errs <- err
				return
			}
			for i := 0; i < commands; i++ {
				if _, err := f.coord.RunCommand(ctx, hctx, []string{"describe", "-m", fmt.Sprintf("w%d-c%d", w, i)}); err != nil {
					errs <- err
					return
				}
				if err := f.coord.PostEdit(ctx, hctx); err != nil {
					errs <- err
					return
				}
			}
			summary, err := f.coord.PostTask(ctx, hctx)
			if err != nil {
				errs <- err
				return
			}
			summaries[w] = summary
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 0, f.coord.ActiveSessions())
	assert.Equal(t, uint64(workers*commands), f.log.TotalAppended())

	for w, summary := range summaries {
		require.Len(t, summary.Operations, commands, "session %d", w)
		for i, op := range summary.Operations {
			assert.Equal(t, fmt.Sprintf("sess-%d", w), op.SessionID)
			assert.Equal(t, fmt.Sprintf("agent-%d", w), op.AgentID)
			assert.Equal(t, fmt.Sprintf("w%d-c%d", w, i), op.Args[2], "operations must stay in call order")
		}
	}
}
