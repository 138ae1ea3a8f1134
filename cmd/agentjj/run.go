package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentjj/internal/hooks"
)

var (
	runAgentID        string
	runSessionID      string
	runOverrideReason string
)

var runCmd = &cobra.Command{
	Use:   "run -- <engine args>",
	Short: "Run one engine command through the coordination pipeline",
	Long: `Run a single engine command through the full pipeline: session
bootstrap, classification, execution with a bounded timeout, operation
logging, and conflict inspection. The recorded operation is printed as
JSON.

High-risk commands are refused unless --override names a reason.

Examples:
  agentjj run --agent agent-7 -- status
  agentjj run --agent agent-7 -- new -m "start feature"
  agentjj run --agent agent-7 --override "cleanup approved" -- abandon xyz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runAgentID, "agent", "", "agent identity recorded on the operation (required)")
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id (default: derived from the agent id)")
	runCmd.Flags().StringVar(&runOverrideReason, "override", "", "reason for allowing a high-risk command")
	_ = runCmd.MarkFlagRequired("agent")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close(ctx)

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("%s-%d", runAgentID, time.Now().Unix())
	}
	hctx := hooks.HookContext{
		AgentID:   runAgentID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}

	if err := comps.coord.PreTask(ctx, hctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	var runOpts []hooks.RunOption
	if runOverrideReason != "" {
		runOpts = append(runOpts, hooks.WithOverride(runOverrideReason))
	}

	op, err := comps.coord.RunCommand(ctx, hctx, args, runOpts...)
	if err != nil {
		if errors.Is(err, hooks.ErrHighRisk) {
			return fmt.Errorf("%w (pass --override with a reason to proceed)", err)
		}
		return err
	}

	if _, err := comps.coord.PostTask(ctx, hctx); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(op); err != nil {
		return err
	}

	// A refusal or engine failure is still a recorded operation; the
	// process exit mirrors the engine's verdict.
	if !op.Success {
		os.Exit(1)
	}
	return nil
}
