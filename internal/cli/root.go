// Package cli implements the tracer command-line interface: the "agent"
// subcommand that runs the orchestrator in the foreground, and a family of
// client subcommands that talk to a running agent over its control socket
// (spec.md §6). The command tree has one file per command, each registered
// from init().
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/config"
)

var (
	configPath string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:           "tracer",
	Short:         "Host-resident observability agent for bioinformatics pipelines",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; main calls this and reports any error.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to the tracer.toml configuration file (used by \"agent\")")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultControlSocketPath, "path to the agent's control socket (used by client commands)")
}
