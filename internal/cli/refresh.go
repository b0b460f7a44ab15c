package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var refreshConfigCmd = &cobra.Command{
	Use:   "refresh-config",
	Short: "Ask the agent to reload its configuration file and target list",
	Args:  cobra.NoArgs,
	RunE:  runRefreshConfig,
}

func init() {
	rootCmd.AddCommand(refreshConfigCmd)
}

func runRefreshConfig(cmd *cobra.Command, args []string) error {
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdRefreshConfig}, nil); err != nil {
		return fmt.Errorf("tracer refresh-config: %w", err)
	}
	return nil
}
