package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/controlsocket"
)

var tagCmd = &cobra.Command{
	Use:   "tag <tag...>",
	Short: "Attach one or more tags to the next run the agent starts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTag,
}

func init() {
	rootCmd.AddCommand(tagCmd)
}

func runTag(cmd *cobra.Command, args []string) error {
	if err := sendCommand(socketPath, controlsocket.Request{Command: controlsocket.CmdTag, Tags: args}, nil); err != nil {
		return fmt.Errorf("tracer tag: %w", err)
	}
	return nil
}
