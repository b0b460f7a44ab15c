package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "Record a finished_run event through the agent (the active run is not cleared)",
	Args:  cobra.NoArgs,
	RunE:  runEnd,
}

func init() {
	rootCmd.AddCommand(endCmd)
}

func runEnd(cmd *cobra.Command, args []string) error {
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdEnd}, nil); err != nil {
		return fmt.Errorf("tracer end: %w", err)
	}
	return nil
}
