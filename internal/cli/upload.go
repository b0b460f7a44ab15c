package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Ask the agent to upload a file to the collector",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("tracer upload: %w", err)
	}
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdUpload, FilePath: absPath}, nil); err != nil {
		return fmt.Errorf("tracer upload: %w", err)
	}
	return nil
}
