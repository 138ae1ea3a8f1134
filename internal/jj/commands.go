package jj

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// ConflictEntry is one (path, side count) pair parsed from the engine's
// conflict listing.
type ConflictEntry struct {
	Path  string `json:"path"`
	Sides int    `json:"sides"`
}

// Status runs `jj status`.
func (e *Executor) Status(ctx context.Context) (*Result, error) {
	return e.Run(ctx, []string{"status"})
}

// Log runs `jj log` without graph art, bounded to limit entries.
func (e *Executor) Log(ctx context.Context, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	return e.Run(ctx, []string{"log", "--limit", strconv.Itoa(limit), "--no-graph"})
}

// Diff runs `jj diff --summary`, optionally against a revision.
func (e *Executor) Diff(ctx context.Context, revision string) (*Result, error) {
	args := []string{"diff", "--summary"}
	if revision != "" {
		args = append(args, "-r", revision)
	}
	return e.Run(ctx, args)
}

// NewChange runs `jj new`, optionally with a description.
func (e *Executor) NewChange(ctx context.Context, message string) (*Result, error) {
	args := []string{"new"}
	if message != "" {
		args = append(args, "-m", message)
	}
	return e.Run(ctx, args)
}

// Describe runs `jj describe -m` for the given revision.
func (e *Executor) Describe(ctx context.Context, revision, message string) (*Result, error) {
	args := []string{"describe"}
	if revision != "" {
		args = append(args, "-r", revision)
	}
	args = append(args, "-m", message)
	return e.Run(ctx, args)
}

// Version runs `jj version`.
func (e *Executor) Version(ctx context.Context) (*Result, error) {
	return e.Run(ctx, []string{"version"})
}

// ResolveList queries the engine's conflict listing. An engine failure
// (non-zero exit, which jj uses for "no conflicts here") yields an
// empty listing, not an error.
func (e *Executor) ResolveList(ctx context.Context) ([]ConflictEntry, error) {
	res, err := e.Run(ctx, []string{"resolve", "--list"})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, nil
	}
	return ParseConflictListing(res.Stdout), nil
}

var sidedRe = regexp.MustCompile(`^(\d+)-sided$`)

// ParseConflictListing parses `jj resolve --list` output into entries.
// Each line names a path followed by an "N-sided conflict" description;
// the side count defaults to 2 when the description is absent.
func ParseConflictListing(output string) []ConflictEntry {
	var entries []ConflictEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		entry := ConflictEntry{Path: fields[0], Sides: 2}
		for _, f := range fields[1:] {
			if m := sidedRe.FindStringSubmatch(f); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 1 {
					entry.Sides = n
				}
				break
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// IsCleanStatus reports whether `jj status` output describes a working
// copy with no changes. Both phrasings the engine has used are accepted.
func IsCleanStatus(output string) bool {
	return strings.Contains(output, "The working copy is clean") ||
		strings.Contains(output, "The working copy has no changes")
}

// ParseLogLines splits log output into non-empty lines.
func ParseLogLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseDiffSummary parses `jj diff --summary` output into change lines.
// Each line is "<kind> <path>" with kind one of M/A/D/R/C.
func ParseDiffSummary(output string) []string {
	var changes []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		changes = append(changes, line)
	}
	return changes
}
