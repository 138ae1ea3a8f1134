package jj

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"
)

// Command describes one engine invocation for a Runner.
type Command struct {
	// Bin is the engine binary path or name.
	Bin string

	// Dir is the working directory, usually the repository path.
	Dir string

	// Args is the argument vector, excluding the binary.
	Args []string

	// Timeout bounds the subprocess lifetime. Must be positive.
	Timeout time.Duration
}

// Runner spawns engine subprocesses. It is the single capability
// through which this package touches the host; everything above it is
// portable logic. Implementations must terminate the subprocess when
// the timeout elapses and report it as ErrTimedOut.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// execRunner runs commands with os/exec.
type execRunner struct {
	// waitDelay bounds the wait for pipe teardown after kill, so a
	// grandchild holding stdout open cannot wedge the call.
	waitDelay time.Duration
}

// NewRunner returns the host Runner backed by os/exec.
func NewRunner() Runner {
	return &execRunner{waitDelay: 3 * time.Second}
}

func (r *execRunner) Run(ctx context.Context, c Command) (*Result, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Bin, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = r.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Args:      c.Args,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		StartedAt: start,
		Duration:  time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	// Bare names miss in PATH as exec.ErrNotFound; explicit paths miss
	// on disk as fs.ErrNotExist.
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrEngineNotFound, c.Bin)
	}

	// The deadline check comes before inspecting the exit error: a
	// process killed by the timeout surfaces as a generic signal death.
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%w after %s: %s", ErrTimedOut, c.Timeout, c.Bin)
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return nil, fmt.Errorf("running %s: %w", c.Bin, err)
}
