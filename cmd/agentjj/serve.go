package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/config"
	httpserver "github.com/fyrsmithlabs/agentjj/internal/http"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
	"github.com/fyrsmithlabs/agentjj/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coordination daemon",
	Long: `Start the coordination daemon: the observation HTTP API, the
background learning syncer, and (when enabled) the out-of-band
operation watcher.

Examples:
  # Serve with the default config
  agentjj serve

  # Serve a specific repository
  agentjj serve --repo /work/shared-repo`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close(context.Background())

	logger := comps.logger.Named("serve")
	logger.Info(ctx, "starting agentjj",
		zap.String("repo", cfg.Engine.RepoPath),
		zap.String("addr", cfg.HTTP.Addr),
		zap.Bool("learning_sync", cfg.Learning.Enabled),
		zap.Bool("watch", cfg.Watch.Enabled),
	)

	// The background syncer drains the retry queue on its own clock.
	comps.learner.Start(ctx)

	if cfg.Watch.Enabled {
		if err := startWatcher(ctx, cfg, comps); err != nil {
			// The watcher is an enhancement; serve without it.
			logger.Warn(ctx, "operation watcher unavailable", zap.Error(err))
		}
	}

	srv, err := httpserver.NewServer(
		comps.log,
		comps.tracker,
		comps.coord,
		comps.learner,
		comps.scrubber,
		comps.logger.Named("http"),
		&httpserver.Config{Addr: cfg.HTTP.Addr},
	)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// startWatcher begins watching the workspace's op heads; every
// debounced change triggers a conflict inspection so out-of-band
// commands (humans, direct jj use) surface conflicts too.
func startWatcher(ctx context.Context, cfg *config.Config, comps *components) error {
	ws, err := jj.DetectWorkspace(cfg.Engine.RepoPath)
	if err != nil {
		return err
	}

	watcher, err := watch.NewWatcher(ws,
		watch.WithDebounce(cfg.Watch.Debounce.Duration()),
		watch.WithLogger(comps.logger.Named("watch")),
	)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return err
	}

	logger := comps.logger.Named("watch")
	go func() {
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events():
				if !ok {
					return
				}
				inspectAfterChange(ctx, comps, logger, ev)
			}
		}
	}()
	return nil
}

// inspectAfterChange re-runs the conflict listing after an op-head
// change and records the inspection as an operation, so out-of-band
// engine runs leave a trace in the shared log.
func inspectAfterChange(ctx context.Context, comps *components, logger *logging.Logger, ev watch.Event) {
	args := []string{"resolve", "--list"}
	res, err := comps.executor.Run(ctx, args)
	if err != nil {
		logger.Warn(ctx, "conflict query after op-head change failed", zap.Error(err))
		return
	}

	var listing []jj.ConflictEntry
	if res.Success() {
		listing = jj.ParseConflictListing(res.Stdout)
	}

	opID := oplog.NewID()
	diff := comps.tracker.Inspect(opID, listing)
	comps.log.Append(oplog.FromResult(res, oplog.Params{
		ID:             opID,
		AgentID:        "external",
		SessionID:      "op-heads-watch",
		Classification: classify.ClassifyArgs(args),
		HasConflict:    len(diff.New) > 0,
	}))

	if !diff.Empty() {
		logger.Info(ctx, "out-of-band change moved conflicts",
			zap.String("workspace", ev.Workspace),
			zap.Int("new", len(diff.New)),
			zap.Int("resolved", len(diff.Resolved)),
		)
	}
}
