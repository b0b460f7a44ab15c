package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the current run's name, ID, and service name",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	var resp controlsocket.InfoResponse
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdInfo}, &resp); err != nil {
		return fmt.Errorf("tracer info: %w", err)
	}

	if resp.RunName == "" && resp.RunID == "" {
		fmt.Println("no run is currently active")
		return nil
	}

	fmt.Printf("run_name:    %s\n", resp.RunName)
	fmt.Printf("run_id:      %s\n", resp.RunID)
	fmt.Printf("service_name: %s\n", resp.ServiceName)
	return nil
}
