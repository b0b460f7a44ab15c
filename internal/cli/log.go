package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var logCmd = &cobra.Command{
	Use:   "log <message...>",
	Short: "Record a test_event message through the agent",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLog,
}

var logAsAlert bool

func init() {
	logCmd.Flags().BoolVar(&logAsAlert, "alert", false, "record as an error event instead of a test_event")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	command := controlsocket.CmdLog
	if logAsAlert {
		command = controlsocket.CmdAlert
	}
	if err := sendCommand(socketPath, controlsocket.Request{Command: command, Message: message}, nil); err != nil {
		return fmt.Errorf("tracer log: %w", err)
	}
	return nil
}
