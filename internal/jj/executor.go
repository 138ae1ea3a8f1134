package jj

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/secrets"
	"github.com/fyrsmithlabs/agentjj/internal/telemetry"
)

// Executor validates arguments, runs the engine through a Runner, and
// scrubs the captured output. It never retries; retry policy belongs to
// callers.
type Executor struct {
	cfg      config.EngineConfig
	runner   Runner
	scrubber secrets.Scrubber
	logger   *logging.Logger
	tracer   trace.Tracer

	commands metric.Int64Counter
	duration metric.Float64Histogram
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner injects a Runner, replacing the os/exec default.
func WithRunner(r Runner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithScrubber injects the secret scrubber applied to engine output.
func WithScrubber(s secrets.Scrubber) Option {
	return func(e *Executor) { e.scrubber = s }
}

// WithLogger injects the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTelemetry wires tracing and metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Executor) {
		e.tracer = tel.Tracer("agentjj.executor")
		meter := tel.Meter("agentjj.executor")
		if counter, err := meter.Int64Counter("engine.commands",
			metric.WithDescription("Engine commands executed")); err == nil {
			e.commands = counter
		}
		if hist, err := meter.Float64Histogram("engine.duration",
			metric.WithDescription("Engine command duration in seconds"),
			metric.WithUnit("s")); err == nil {
			e.duration = hist
		}
	}
}

// NewExecutor builds an Executor over the configured engine.
func NewExecutor(cfg config.EngineConfig, opts ...Option) (*Executor, error) {
	if err := config.ValidateRepoPath(cfg.RepoPath); err != nil {
		return nil, err
	}
	if cfg.BinPath == "" {
		return nil, fmt.Errorf("%w: engine binary path is empty", ErrInvalidInput)
	}

	e := &Executor{
		cfg:      cfg,
		runner:   NewRunner(),
		scrubber: &secrets.NoopScrubber{},
		logger:   logging.Nop(),
		tracer:   noop.NewTracerProvider().Tracer("agentjj.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RepoPath returns the repository path commands run in.
func (e *Executor) RepoPath() string {
	return e.cfg.RepoPath
}

// Run executes the engine with the configured default timeout.
func (e *Executor) Run(ctx context.Context, args []string) (*Result, error) {
	return e.RunWithTimeout(ctx, args, e.cfg.Timeout.Duration())
}

// RunWithTimeout executes the engine with an explicit timeout.
//
// A non-zero engine exit is returned as a Result with a nil error.
// ErrInvalidInput, ErrEngineNotFound and ErrTimedOut are the only error
// outcomes; a timed-out call still carries a Result with the partial
// output captured before termination.
func (e *Executor) RunWithTimeout(ctx context.Context, args []string, timeout time.Duration) (*Result, error) {
	if err := validateArgs(args); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidInput, timeout)
	}

	verb := args[0]
	ctx, span := e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.String("jj.verb", verb),
	))
	defer span.End()

	if e.cfg.Verbose {
		e.logger.Trace(ctx, "engine command starting",
			zap.Strings("argv", args),
			zap.Duration("timeout", timeout))
	}

	res, err := e.runner.Run(ctx, Command{
		Bin:     e.cfg.BinPath,
		Dir:     e.cfg.RepoPath,
		Args:    args,
		Timeout: timeout,
	})

	if res != nil {
		res.Stdout = e.scrubber.Scrub(res.Stdout).Scrubbed
		res.Stderr = e.scrubber.Scrub(res.Stderr).Scrubbed
	}

	switch {
	case err != nil:
		span.SetAttributes(attribute.String("jj.outcome", "error"))
		e.record(ctx, verb, "error", res)
		e.logger.Warn(ctx, "engine command failed",
			zap.String("verb", verb),
			zap.Error(err))
		return res, err
	case res.ExitCode != 0:
		span.SetAttributes(
			attribute.String("jj.outcome", "engine_failure"),
			attribute.Int("jj.exit_code", res.ExitCode),
		)
		e.record(ctx, verb, "engine_failure", res)
		e.logger.Debug(ctx, "engine command exited non-zero",
			zap.String("verb", verb),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration))
		return res, nil
	default:
		span.SetAttributes(attribute.String("jj.outcome", "ok"))
		e.record(ctx, verb, "ok", res)
		if e.cfg.Verbose {
			e.logger.Debug(ctx, "engine command completed",
				zap.String("verb", verb),
				zap.Duration("duration", res.Duration),
				zap.Int("stdout_bytes", len(res.Stdout)))
		}
		return res, nil
	}
}

func (e *Executor) record(ctx context.Context, verb, outcome string, res *Result) {
	attrs := metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.String("outcome", outcome),
	)
	if e.commands != nil {
		e.commands.Add(ctx, 1, attrs)
	}
	if e.duration != nil && res != nil {
		e.duration.Record(ctx, res.Duration.Seconds(), attrs)
	}
}

// validateArgs rejects argument vectors before any subprocess spawns.
func validateArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: empty argument vector", ErrInvalidInput)
	}
	for i, a := range args {
		if a == "" && i == 0 {
			return fmt.Errorf("%w: empty command verb", ErrInvalidInput)
		}
		if strings.ContainsRune(a, 0) {
			return fmt.Errorf("%w: argument %d contains NUL", ErrInvalidInput, i)
		}
	}
	return nil
}
