package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Notify the agent of a pipeline command invocation",
	Long: `start tells a running tracer agent that a monitored command was
just invoked — the same notification a shell wrapper sends on every pipeline
step. It records an interaction on the active run, restarting the Run
Controller's inactivity timer; when no run is active it has no effect
(spec.md §4.9).`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdStart}, nil); err != nil {
		return fmt.Errorf("tracer start: %w", err)
	}
	return nil
}
