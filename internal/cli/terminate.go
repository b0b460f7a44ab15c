package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Ask a running agent to shut down",
	Args:  cobra.NoArgs,
	RunE:  runTerminate,
}

func init() {
	rootCmd.AddCommand(terminateCmd)
}

func runTerminate(cmd *cobra.Command, args []string) error {
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdTerminate}, nil); err != nil {
		return fmt.Errorf("tracer terminate: %w", err)
	}
	return nil
}
