package hooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
	"github.com/fyrsmithlabs/agentjj/internal/telemetry"
)

// DefaultSquashThreshold is the mutating-operation count after which a
// task summary suggests squashing.
const DefaultSquashThreshold = 5

// Syncer forwards operations to the learning store. Implementations
// must fail soft; the coordinator logs and swallows every error.
type Syncer interface {
	SyncOperation(ctx context.Context, op oplog.Operation, tag string) error
	SyncBatch(ctx context.Context, ops []oplog.Operation, tag string) error
}

// session is the coordinator's private state for one live session.
type session struct {
	agentID   string
	task      string
	state     State
	startedAt time.Time

	editCount int
	conflicts int
	ops       []oplog.Operation
}

// Coordinator runs the per-session lifecycle state machine and the
// gated command execution path. Safe for concurrent use by any number
// of sessions; the lock guards only the session table, never a running
// subprocess.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*session

	executor   *jj.Executor
	log        *oplog.Log
	tracker    *conflict.Tracker
	classifier *classify.Classifier
	syncer     Syncer
	logger     *logging.Logger

	sessionsStarted metric.Int64Counter
	sessionsClosed  metric.Int64Counter
	opsRecorded     metric.Int64Counter
	gateRefusals    metric.Int64Counter

	allowHighRisk   bool
	excerptLimit    int
	tag             string
	squashThreshold int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSyncer attaches a learning sync adapter.
func WithSyncer(s Syncer) Option {
	return func(c *Coordinator) { c.syncer = s }
}

// WithClassifier replaces the default rule table.
func WithClassifier(cl *classify.Classifier) Option {
	return func(c *Coordinator) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithTelemetry registers coordinator metrics on the given provider.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Coordinator) {
		if tel == nil {
			return
		}
		meter := tel.Meter("agentjj/hooks")
		c.sessionsStarted, _ = meter.Int64Counter("hooks.sessions.started",
			metric.WithDescription("Sessions opened by pre_task"))
		c.sessionsClosed, _ = meter.Int64Counter("hooks.sessions.closed",
			metric.WithDescription("Sessions closed by post_task"))
		c.opsRecorded, _ = meter.Int64Counter("hooks.operations.recorded",
			metric.WithDescription("Engine operations recorded through sessions"))
		c.gateRefusals, _ = meter.Int64Counter("hooks.gate.refusals",
			metric.WithDescription("High-risk commands refused without override"))
	}
}

// WithAllowHighRisk lifts the gate globally. Per-call overrides remain
// available when this is off.
func WithAllowHighRisk(allow bool) Option {
	return func(c *Coordinator) { c.allowHighRisk = allow }
}

// WithExcerptLimit bounds recorded output excerpts, in bytes.
func WithExcerptLimit(limit int) Option {
	return func(c *Coordinator) { c.excerptLimit = limit }
}

// WithTag sets the learning collection tag.
func WithTag(tag string) Option {
	return func(c *Coordinator) { c.tag = tag }
}

// WithSquashThreshold sets how many mutating operations a session may
// record before its summary suggests squashing. Zero disables the
// suggestion.
func WithSquashThreshold(n int) Option {
	return func(c *Coordinator) { c.squashThreshold = n }
}

// NewCoordinator wires the coordinator to the executor, the shared
// operation log, and the conflict tracker.
func NewCoordinator(executor *jj.Executor, log *oplog.Log, tracker *conflict.Tracker, opts ...Option) (*Coordinator, error) {
	if executor == nil {
		return nil, fmt.Errorf("%w: executor required", jj.ErrInvalidInput)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: operation log required", jj.ErrInvalidInput)
	}
	if tracker == nil {
		return nil, fmt.Errorf("%w: conflict tracker required", jj.ErrInvalidInput)
	}

	c := &Coordinator{
		sessions:        make(map[string]*session),
		executor:        executor,
		log:             log,
		tracker:         tracker,
		classifier:      classify.New(),
		logger:          logging.Nop(),
		squashThreshold: DefaultSquashThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PreTask opens a session. Calling it while the session already has a
// task in flight fails with ErrInvalidState.
func (c *Coordinator) PreTask(ctx context.Context, hctx HookContext) error {
	if err := hctx.validate(); err != nil {
		return err
	}
	ctx = withIdentity(ctx, hctx)

	c.mu.Lock()
	if s, ok := c.sessions[hctx.SessionID]; ok {
		state := s.state
		c.mu.Unlock()
		return fmt.Errorf("%w: pre_task for session %q already in state %s", ErrInvalidState, hctx.SessionID, state)
	}
	c.sessions[hctx.SessionID] = &session{
		agentID:   hctx.AgentID,
		task:      hctx.Task,
		state:     StateTaskStarted,
		startedAt: hctx.at(),
	}
	c.mu.Unlock()

	c.logger.Info(ctx, "task started", zap.String("task", hctx.Task))
	c.add(ctx, c.sessionsStarted, 1)
	return nil
}

// PostEdit marks the session as editing. Valid only after pre_task and
// before post_task; repeatable.
func (c *Coordinator) PostEdit(ctx context.Context, hctx HookContext) error {
	if err := hctx.validate(); err != nil {
		return err
	}
	ctx = withIdentity(ctx, hctx)

	c.mu.Lock()
	s, ok := c.sessions[hctx.SessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: post_edit for session %q with no started task", ErrInvalidState, hctx.SessionID)
	}
	s.state = StateEditing
	s.editCount++
	edits := s.editCount
	c.mu.Unlock()

	c.logger.Debug(ctx, "edit recorded", zap.Int("edits", edits))
	return nil
}

// PostTask closes the session and returns everything it recorded since
// pre_task. The session id becomes reusable afterwards.
func (c *Coordinator) PostTask(ctx context.Context, hctx HookContext) (TaskSummary, error) {
	if err := hctx.validate(); err != nil {
		return TaskSummary{}, err
	}
	ctx = withIdentity(ctx, hctx)

	c.mu.Lock()
	s, ok := c.sessions[hctx.SessionID]
	if !ok {
		c.mu.Unlock()
		return TaskSummary{}, fmt.Errorf("%w: post_task for session %q with no started task", ErrInvalidState, hctx.SessionID)
	}
	delete(c.sessions, hctx.SessionID)
	c.mu.Unlock()

	summary := TaskSummary{
		SessionID:         hctx.SessionID,
		AgentID:           s.agentID,
		Task:              s.task,
		StartedAt:         s.startedAt,
		EndedAt:           hctx.at(),
		EditCount:         s.editCount,
		Operations:        s.ops,
		ConflictsDetected: s.conflicts,
		SuggestedActions:  c.suggestFor(s),
	}
	if summary.Operations == nil {
		summary.Operations = []oplog.Operation{}
	}

	c.logger.Info(ctx, "task completed",
		zap.Int("operations", len(summary.Operations)),
		zap.Int("edits", summary.EditCount),
		zap.Int("conflicts", summary.ConflictsDetected),
	)
	c.add(ctx, c.sessionsClosed, 1)

	if c.syncer != nil && len(summary.Operations) > 0 {
		if err := c.syncer.SyncBatch(ctx, summary.Operations, c.tag); err != nil {
			c.logger.Warn(ctx, "learning sync failed for task batch", zap.Error(err))
		}
	}
	return summary, nil
}

// suggestFor derives session-level suggestions from what the session
// recorded.
func (c *Coordinator) suggestFor(s *session) []classify.Action {
	mutating := 0
	for _, op := range s.ops {
		if op.Classification.Mutating {
			mutating++
		}
	}
	if c.squashThreshold > 0 && mutating >= c.squashThreshold {
		return []classify.Action{classify.ActionSquash}
	}
	return []classify.Action{}
}

// RunOption adjusts one RunCommand call.
type RunOption func(*runConfig)

type runConfig struct {
	override bool
	reason   string
}

// WithOverride authorizes one high-risk command. The reason is logged
// with the execution for audit.
func WithOverride(reason string) RunOption {
	return func(rc *runConfig) {
		rc.override = true
		rc.reason = reason
	}
}

// RunCommand executes one engine command inside a session: classify,
// gate, execute, inspect conflicts, record, sync.
//
// Engine failures are not errors; they come back as a recorded
// Operation with a non-zero exit code. A timeout returns both the
// recorded Operation and the executor's error.
func (c *Coordinator) RunCommand(ctx context.Context, hctx HookContext, args []string, opts ...RunOption) (oplog.Operation, error) {
	if err := hctx.validate(); err != nil {
		return oplog.Operation{}, err
	}
	ctx = withIdentity(ctx, hctx)

	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}

	c.mu.RLock()
	_, ok := c.sessions[hctx.SessionID]
	c.mu.RUnlock()
	if !ok {
		return oplog.Operation{}, fmt.Errorf("%w: command for session %q with no started task", ErrInvalidState, hctx.SessionID)
	}

	cls := c.classifier.ClassifyArgs(args)
	if cls.HighRisk() && !rc.override && !c.allowHighRisk {
		c.logger.Warn(ctx, "command refused by gate",
			zap.String("command", strings.Join(args, " ")),
			zap.String("complexity", string(cls.Complexity)),
			zap.String("risk", string(cls.Risk)),
		)
		c.add(ctx, c.gateRefusals, 1, attribute.String("jj.verb", cls.Verb))
		return oplog.Operation{}, fmt.Errorf("%w: %q classified %s complexity, %s risk", ErrHighRisk, strings.Join(args, " "), cls.Complexity, cls.Risk)
	}
	if cls.HighRisk() && rc.override {
		c.logger.Warn(ctx, "high-risk command overridden",
			zap.String("command", strings.Join(args, " ")),
			zap.String("reason", rc.reason),
		)
	}

	opID := oplog.NewID()
	ctx = logging.WithOperationID(ctx, opID)

	res, runErr := c.executor.Run(ctx, args)
	if res == nil {
		// Nothing ran: missing binary or bad arguments. There is no
		// result to record.
		return oplog.Operation{}, runErr
	}

	hasConflict := false
	if runErr == nil && cls.Mutating {
		listing, lerr := c.executor.ResolveList(ctx)
		if lerr != nil {
			c.logger.Warn(ctx, "conflict inspection failed", zap.Error(lerr))
		} else {
			diff := c.tracker.Inspect(opID, listing)
			hasConflict = len(diff.New) > 0
			if !diff.Empty() {
				c.logger.Info(ctx, "conflict state changed",
					zap.Int("new", len(diff.New)),
					zap.Int("resolved", len(diff.Resolved)),
				)
			}
		}
	}

	op := oplog.FromResult(res, oplog.Params{
		ID:             opID,
		AgentID:        hctx.AgentID,
		SessionID:      hctx.SessionID,
		Classification: cls,
		HasConflict:    hasConflict,
		ExcerptLimit:   c.excerptLimit,
	})
	c.log.Append(op)

	c.mu.Lock()
	if live, stillOpen := c.sessions[hctx.SessionID]; stillOpen {
		live.ops = append(live.ops, op.Clone())
		if hasConflict {
			live.conflicts++
		}
	}
	c.mu.Unlock()

	outcome := "ok"
	switch {
	case runErr != nil:
		outcome = "error"
	case !op.Success:
		outcome = "engine_failure"
	}
	c.logger.Info(ctx, "operation recorded",
		zap.String("verb", cls.Verb),
		zap.Int("exit_code", op.ExitCode),
		zap.Duration("duration", op.Duration),
		zap.String("outcome", outcome),
		zap.Bool("conflict", hasConflict),
	)
	c.add(ctx, c.opsRecorded, 1,
		attribute.String("jj.verb", cls.Verb),
		attribute.String("jj.outcome", outcome),
	)

	if c.syncer != nil {
		if serr := c.syncer.SyncOperation(ctx, op, c.tag); serr != nil {
			c.logger.Warn(ctx, "learning sync failed for operation", zap.Error(serr))
		}
	}

	return op, runErr
}

// State returns the session's current lifecycle position. Unknown
// sessions are Idle.
func (c *Coordinator) State(sessionID string) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.sessions[sessionID]; ok {
		return s.state
	}
	return StateIdle
}

// Session returns a snapshot of one live session.
func (c *Coordinator) Session(sessionID string) (SessionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false
	}
	return snapshotSession(sessionID, s), true
}

// Sessions returns snapshots of every live session, oldest first.
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SessionInfo, 0, len(c.sessions))
	for id, s := range c.sessions {
		out = append(out, snapshotSession(id, s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveSessions returns how many sessions have a task in flight.
func (c *Coordinator) ActiveSessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func snapshotSession(id string, s *session) SessionInfo {
	return SessionInfo{
		SessionID:  id,
		AgentID:    s.agentID,
		Task:       s.task,
		State:      s.state,
		StartedAt:  s.startedAt,
		EditCount:  s.editCount,
		Operations: len(s.ops),
		Conflicts:  s.conflicts,
	}
}

// withIdentity enriches the context so every log line carries the
// session identity.
func withIdentity(ctx context.Context, hctx HookContext) context.Context {
	ctx = logging.WithAgentID(ctx, hctx.AgentID)
	return logging.WithSessionID(ctx, hctx.SessionID)
}

func (c *Coordinator) add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}
