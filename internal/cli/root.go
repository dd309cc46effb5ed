// Package cli implements the agentfloor CLI commands.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentfloor",
	Short: "Watch live AI-agent sessions and mirror them to an agentfloor server",
	Long: `Agentfloor watches the session logs of locally running AI agents,
classifies what each agent is doing right now, and keeps a shared server
in sync so remote viewers see the same picture.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
}
