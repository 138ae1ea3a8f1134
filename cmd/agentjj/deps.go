package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/config"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	"github.com/fyrsmithlabs/agentjj/internal/embed"
	"github.com/fyrsmithlabs/agentjj/internal/hooks"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/learning"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
	"github.com/fyrsmithlabs/agentjj/internal/secrets"
	"github.com/fyrsmithlabs/agentjj/internal/telemetry"
)

// components holds the wired coordination layer. Every command that
// needs more than the bare executor builds one and defers Close.
type components struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	scrubber  secrets.Scrubber
	executor  *jj.Executor
	log       *oplog.Log
	tracker   *conflict.Tracker
	learner   *learning.Adapter
	coord     *hooks.Coordinator
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if repoPath != "" {
		cfg.WithRepoPath(repoPath)
	}
	if verboseFlag {
		cfg.WithVerbose(true)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildComponents wires the full pipeline from configuration:
// telemetry, logging, output scrubbing, the executor, the shared
// operation log, the conflict tracker, the learning adapter, and the
// hook coordinator.
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	tel, err := telemetry.New(ctx, telemetry.NewConfig(cfg.Telemetry))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if level, err := logging.LevelFromString(cfg.Logging.Level); err == nil {
		logCfg.Level = level
	}
	logCfg.Format = cfg.Logging.Format
	logCfg.Output.OTEL = cfg.Telemetry.Enabled

	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	scrubber, err := secrets.New(secrets.Options{
		Enabled:           cfg.Secrets.Enabled,
		RepoPath:          cfg.Engine.RepoPath,
		UserAllowlistPath: cfg.Secrets.UserAllowlistPath,
	})
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing scrubber: %w", err)
	}

	executor, err := jj.NewExecutor(cfg.Engine,
		jj.WithScrubber(scrubber),
		jj.WithLogger(logger.Named("jj")),
		jj.WithTelemetry(tel),
	)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing executor: %w", err)
	}

	opLog, err := oplog.NewLog(cfg.Log.MaxEntries)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing operation log: %w", err)
	}
	tracker := conflict.NewTracker()

	learner, err := buildLearner(cfg, opLog, logger, tel)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing learning adapter: %w", err)
	}

	coord, err := hooks.NewCoordinator(executor, opLog, tracker,
		hooks.WithLogger(logger.Named("hooks")),
		hooks.WithSyncer(learner),
		hooks.WithTelemetry(tel),
		hooks.WithAllowHighRisk(cfg.Hooks.AllowHighRisk),
		hooks.WithTag(cfg.Learning.Tag),
	)
	if err != nil {
		_ = learner.Close()
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing hook coordinator: %w", err)
	}

	return &components{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		scrubber:  scrubber,
		executor:  executor,
		log:       opLog,
		tracker:   tracker,
		learner:   learner,
		coord:     coord,
	}, nil
}

// buildLearner assembles the learning adapter. With sync disabled it
// still answers statistics from the local operation log.
func buildLearner(cfg *config.Config, opLog *oplog.Log, logger *logging.Logger, tel *telemetry.Telemetry) (*learning.Adapter, error) {
	opts := []learning.AdapterOption{
		learning.WithAdapterLogger(logger.Named("learning")),
		learning.WithAdapterTelemetry(tel),
		learning.WithDefaultTag(cfg.Learning.Tag),
		learning.WithQueueCapacity(cfg.Learning.QueueCapacity),
		learning.WithSyncInterval(cfg.Learning.SyncInterval.Duration()),
		learning.WithRateLimit(cfg.Learning.RatePerSecond),
	}

	var store learning.Store
	if cfg.Learning.Enabled {
		embedder, err := embed.NewProvider(cfg.Learning.Embedding)
		if err != nil {
			return nil, fmt.Errorf("embedding provider: %w", err)
		}
		embedder = embed.Instrument(embedder, tel.Meter("agentjj/embed"), cfg.Learning.Embedding.Model)

		switch cfg.Learning.Backend {
		case "qdrant":
			store, err = learning.NewQdrantStore(cfg.Learning.Qdrant, embedder,
				learning.WithQdrantLogger(logger.Named("qdrant")))
		default:
			store, err = learning.NewChromemStore(cfg.Learning.Path, embedder,
				learning.WithChromemLogger(logger.Named("chromem")))
		}
		if err != nil {
			return nil, fmt.Errorf("%s store: %w", cfg.Learning.Backend, err)
		}

		if cfg.Learning.NATS.URL != "" {
			relay, err := learning.NewRelay(cfg.Learning.NATS,
				learning.WithRelayLogger(logger.Named("relay")))
			if err != nil {
				// The relay is an optional side channel; a missing
				// broker must not take down sync.
				logger.Warn(context.Background(), "operation relay unavailable", zap.Error(err))
			} else {
				opts = append(opts, learning.WithRelay(relay))
			}
		}
	}

	return learning.NewAdapter(store, opLog, opts...)
}

// Close releases everything in dependency order.
func (c *components) Close(ctx context.Context) {
	if c.learner != nil {
		_ = c.learner.Close()
	}
	if c.telemetry != nil {
		_ = c.telemetry.Shutdown(ctx)
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
