package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/secrets"
)

// The read-only inspection commands share the tool surface's response
// shapes so humans and agents see the same thing.

var logLimit int

var diffRevision string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show working-copy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExecutor(cmd.Context(), func(ctx context.Context, executor *jj.Executor) error {
			res, err := executor.Status(ctx)
			if err != nil {
				return err
			}
			state := "modified"
			if jj.IsCleanStatus(res.Stdout) {
				state = "clean"
			}
			return printJSON(map[string]any{
				"status":    state,
				"output":    res.Stdout,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent commits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExecutor(cmd.Context(), func(ctx context.Context, executor *jj.Executor) error {
			res, err := executor.Log(ctx, logLimit)
			if err != nil {
				return err
			}
			commits := jj.ParseLogLines(res.Stdout)
			return printJSON(map[string]any{
				"commits": commits,
				"count":   len(commits),
			})
		})
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show working-copy changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExecutor(cmd.Context(), func(ctx context.Context, executor *jj.Executor) error {
			res, err := executor.Diff(ctx, diffRevision)
			if err != nil {
				return err
			}
			changes := jj.ParseDiffSummary(res.Stdout)
			return printJSON(map[string]any{
				"changes":   changes,
				"fileCount": len(changes),
			})
		})
	},
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 10, "number of commits to show")
	diffCmd.Flags().StringVar(&diffRevision, "revision", "", "revision to diff (default: working copy)")
}

// withExecutor builds just enough for a read-only command: config,
// scrubber, executor. No operation log, no learning adapter.
func withExecutor(ctx context.Context, fn func(context.Context, *jj.Executor) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	executor, err := buildExecutor(cfg)
	if err != nil {
		return err
	}
	return fn(ctx, executor)
}

func buildExecutor(cfg *config.Config) (*jj.Executor, error) {
	scrubber, err := secrets.New(secrets.Options{
		Enabled:           cfg.Secrets.Enabled,
		RepoPath:          cfg.Engine.RepoPath,
		UserAllowlistPath: cfg.Secrets.UserAllowlistPath,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing scrubber: %w", err)
	}
	return jj.NewExecutor(cfg.Engine, jj.WithScrubber(scrubber))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
