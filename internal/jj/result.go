package jj

import (
	"strings"
	"time"
)

// Result is the normalized outcome of one engine invocation.
// ExitCode carries engine failures as data; see the package doc.
type Result struct {
	// Args is the full argument vector passed to the engine,
	// excluding the binary itself.
	Args []string `json:"args"`

	// ExitCode is the subprocess exit status. -1 when the process was
	// terminated before exiting on its own.
	ExitCode int `json:"exit_code"`

	// Stdout and Stderr are captured output, scrubbed of secrets and
	// truncated to the configured excerpt limit.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// StartedAt and Duration bracket the subprocess lifetime.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// OutputTruncated is set when either stream exceeded the excerpt
	// limit and was cut.
	OutputTruncated bool `json:"output_truncated,omitempty"`
}

// Success reports whether the engine exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Command returns the argument vector as a single printable string.
func (r *Result) Command() string {
	return strings.Join(r.Args, " ")
}

// CombinedOutput returns stdout followed by stderr, separated by a
// newline when both are present.
func (r *Result) CombinedOutput() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	default:
		return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
	}
}
