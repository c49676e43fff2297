// Package cmd provides the CLI commands for ThoughtGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/olegmukhin/thoughtgate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "thoughtgate",
	Short: "ThoughtGate - a policy-governed MCP sidecar proxy",
	Long: `ThoughtGate sits between an AI agent and the MCP servers it talks to.

Every tools/call, resources/*, and prompts/* request is classified against a
Cedar-shaped policy bundle into one of three routes: forwarded unchanged,
blocked pending a human decision in the configured reviewer channel, or
rejected outright. Everything else passes through untouched.

Configuration is entirely environment-variable driven; there is no config
file to point at.

Commands:
  serve     Start the proxy
  version   Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(config.InitViper)
}
