package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracerbio/tracer/internal/config"
	"github.com/tracerbio/tracer/internal/orchestrator"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the tracer agent in the foreground",
	Long: `agent loads the configuration file, starts every monitoring
component (process watcher, file-system watcher, file-content watcher, rule
engine, control socket, admin HTTP server) and blocks until SIGINT or SIGTERM,
shutting down gracefully (spec.md §4.10).`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("tracer agent: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("tracer: configuration loaded",
		slog.String("config_path", configPath),
		slog.String("service_url", cfg.ServiceURL),
		slog.Int("num_targets", len(cfg.Targets)),
	)

	orch := orchestrator.New(cfg, configPath, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("tracer agent: start: %w", err)
	}

	<-ctx.Done()
	logger.Info("tracer: received shutdown signal")
	orch.Stop()
	return nil
}
