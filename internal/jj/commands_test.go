package jj

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeExecutor(t *testing.T, runner *fakeRunner) *Executor {
	t.Helper()
	exec, err := NewExecutor(testEngineConfig(t), WithRunner(runner))
	require.NoError(t, err)
	return exec
}

func TestCommandBuilders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		invoke   func(*Executor) error
		wantArgs []string
	}{
		{
			name: "status",
			invoke: func(e *Executor) error {
				_, err := e.Status(context.Background())
				return err
			},
			wantArgs: []string{"status"},
		},
		{
			name: "log default limit",
			invoke: func(e *Executor) error {
				_, err := e.Log(context.Background(), 0)
				return err
			},
			wantArgs: []string{"log", "--limit", "10", "--no-graph"},
		},
		{
			name: "log explicit limit",
			invoke: func(e *Executor) error {
				_, err := e.Log(context.Background(), 25)
				return err
			},
			wantArgs: []string{"log", "--limit", "25", "--no-graph"},
		},
		{
			name: "diff",
			invoke: func(e *Executor) error {
				_, err := e.Diff(context.Background(), "")
				return err
			},
			wantArgs: []string{"diff", "--summary"},
		},
		{
			name: "diff with revision",
			invoke: func(e *Executor) error {
				_, err := e.Diff(context.Background(), "abc123")
				return err
			},
			wantArgs: []string{"diff", "--summary", "-r", "abc123"},
		},
		{
			name: "new change with message",
			invoke: func(e *Executor) error {
				_, err := e.NewChange(context.Background(), "start work")
				return err
			},
			wantArgs: []string{"new", "-m", "start work"},
		},
		{
			name: "describe",
			invoke: func(e *Executor) error {
				_, err := e.Describe(context.Background(), "@", "wip")
				return err
			},
			wantArgs: []string{"describe", "-r", "@", "-m", "wip"},
		},
		{
			name: "version",
			invoke: func(e *Executor) error {
				_, err := e.Version(context.Background())
				return err
			},
			wantArgs: []string{"version"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{res: &Result{}}
			exec := newFakeExecutor(t, runner)
			require.NoError(t, tt.invoke(exec))
			assert.Equal(t, tt.wantArgs, runner.gotCmd.Args)
		})
	}
}

func TestResolveList(t *testing.T) {
	t.Parallel()

	t.Run("parses listing", func(t *testing.T) {
		t.Parallel()
		runner := &fakeRunner{res: &Result{
			Stdout: "src/main.go    2-sided conflict\nlib/util.go    4-sided conflict\n",
		}}
		exec := newFakeExecutor(t, runner)

		entries, err := exec.ResolveList(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"resolve", "--list"}, runner.gotCmd.Args)
		require.Len(t, entries, 2)
		assert.Equal(t, ConflictEntry{Path: "src/main.go", Sides: 2}, entries[0])
		assert.Equal(t, ConflictEntry{Path: "lib/util.go", Sides: 4}, entries[1])
	})

	t.Run("engine failure means no conflicts", func(t *testing.T) {
		t.Parallel()
		runner := &fakeRunner{res: &Result{
			ExitCode: 2,
			Stderr:   "error: no conflicts at this revision\n",
		}}
		exec := newFakeExecutor(t, runner)

		entries, err := exec.ResolveList(context.Background())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestParseConflictListing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   []ConflictEntry
	}{
		{
			name:   "empty",
			output: "",
			want:   nil,
		},
		{
			name:   "two sided",
			output: "src/main.go    2-sided conflict\n",
			want:   []ConflictEntry{{Path: "src/main.go", Sides: 2}},
		},
		{
			name:   "many sided",
			output: "deep/merge.go    5-sided conflict\n",
			want:   []ConflictEntry{{Path: "deep/merge.go", Sides: 5}},
		},
		{
			name:   "missing description defaults to two",
			output: "plain.txt\n",
			want:   []ConflictEntry{{Path: "plain.txt", Sides: 2}},
		},
		{
			name:   "blank lines skipped",
			output: "\na.txt    2-sided conflict\n\nb.txt    2-sided conflict\n\n",
			want: []ConflictEntry{
				{Path: "a.txt", Sides: 2},
				{Path: "b.txt", Sides: 2},
			},
		},
		{
			name:   "extra annotation ignored",
			output: "c.txt    2-sided conflict including 1 deletion\n",
			want:   []ConflictEntry{{Path: "c.txt", Sides: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseConflictListing(tt.output))
		})
	}
}

func TestIsCleanStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCleanStatus("The working copy is clean\nWorking copy : abc\n"))
	assert.True(t, IsCleanStatus("The working copy has no changes.\n"))
	assert.False(t, IsCleanStatus("Working copy changes:\nM src/main.go\n"))
	assert.False(t, IsCleanStatus(""))
}

func TestParseLogLines(t *testing.T) {
	t.Parallel()

	out := "xyzabc user@host 2026-01-02 first line\n\nqrstuv user@host 2026-01-01 second\n"
	lines := ParseLogLines(out)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first line")
}

func TestParseDiffSummary(t *testing.T) {
	t.Parallel()

	out := "M src/main.go\nA docs/new.md\nD old.txt\n"
	changes := ParseDiffSummary(out)
	assert.Equal(t, []string{"M src/main.go", "A docs/new.md", "D old.txt"}, changes)
	assert.Empty(t, ParseDiffSummary("\n\n"))
}
