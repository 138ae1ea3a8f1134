package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local setup",
	Long: `Check that the configuration loads, the engine binary answers, and
the repository is a usable workspace. Exits non-zero when any check
fails.`,
	RunE: runDoctor,
}

type check struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (string, error)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("✗ configuration: %v\n", err)
		return fmt.Errorf("1 check failed")
	}
	fmt.Println("✓ configuration: valid")

	checks := []check{
		{name: "engine binary", run: checkEngine},
		{name: "workspace", run: checkWorkspace},
		{name: "learning store", run: checkLearning},
	}

	failed := 0
	for _, c := range checks {
		detail, err := c.run(ctx, cfg)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("✓ %s: %s\n", c.name, detail)
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkEngine(ctx context.Context, cfg *config.Config) (string, error) {
	executor, err := buildExecutor(cfg)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := executor.Version(ctx)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%q exited %d", cfg.Engine.BinPath, res.ExitCode)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func checkWorkspace(_ context.Context, cfg *config.Config) (string, error) {
	ws, err := jj.DetectWorkspace(cfg.Engine.RepoPath)
	if err != nil {
		return "", err
	}
	return ws.Root, nil
}

func checkLearning(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Learning.Enabled {
		return "sync disabled", nil
	}
	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer comps.Close(ctx)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	stats := comps.learner.Statistics(ctx, cfg.Learning.Tag)
	return fmt.Sprintf("%s backend, %d operation(s) recorded", cfg.Learning.Backend, stats.Total), nil
}
