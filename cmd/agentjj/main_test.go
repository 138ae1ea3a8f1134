package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := []string{"serve", "mcp", "run", "status", "log", "diff", "monitor", "doctor", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, "subcommand %q", name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "repo", "verbose"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "flag %q", name)
	}
}

func TestRunCommand_RequiresAgent(t *testing.T) {
	flag := runCmd.Flags().Lookup("agent")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Annotations, cobraRequiredAnnotation)
}

// cobra marks required flags with this annotation key.
const cobraRequiredAnnotation = "cobra_annotation_bash_completion_one_required_flag"
