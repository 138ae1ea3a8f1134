package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentjj/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the agent tool surface over stdio",
	Long: `Serve the MCP tool surface over stdio. Agent harnesses spawn this
command and speak the protocol over the pipe; logs go to stderr so
stdout stays clean for the transport.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
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
	defer comps.Close(cmd.Context())

	comps.learner.Start(ctx)

	srvCfg := mcp.DefaultConfig()
	srvCfg.Version = version
	srvCfg.Logger = comps.logger.Named("mcp")
	srvCfg.Telemetry = comps.telemetry

	srv, err := mcp.NewServer(srvCfg, comps.executor, comps.coord, comps.log, comps.tracker, comps.learner)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
