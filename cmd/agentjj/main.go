// Agentjj coordinates swarms of autonomous agents working in one
// Jujutsu repository: every engine command is executed with a bounded
// timeout, classified, recorded in a shared operation log, inspected
// for conflicts, and optionally synced to a learning store.
//
// Usage:
//
//	agentjj serve              Start the coordination daemon (HTTP API)
//	agentjj mcp                Serve the agent tool surface over stdio
//	agentjj run -- <args>      Run one engine command through the pipeline
//	agentjj status             Show working-copy status
//	agentjj monitor            Terminal dashboard over a running daemon
//	agentjj doctor             Check the local setup
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location.
	configPath string

	// repoPath overrides engine.repo_path from the config.
	repoPath string

	// verboseFlag overrides engine.verbose from the config.
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "agentjj",
	Short: "Multi-agent coordination layer for Jujutsu repositories",
	Long: `agentjj wraps the jj version-control engine for swarms of autonomous
agents: commands run with bounded timeouts, land in an append-only
operation log, are classified for risk, and are inspected for
conflicts that other agents can query without blocking.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: $XDG_CONFIG_HOME/agentjj/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "R", "", "repository path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "record full command output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
