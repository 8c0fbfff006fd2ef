package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/container"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the engine until interrupted",
		Long: `Starts every enabled watcher, the orchestrator, the health monitor and
the HTTP API. SIGINT or SIGTERM stops them gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, true)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := container.NewContainer(cfg, logger)
			if err != nil {
				return err
			}

			logger.Info("Starting Digital FTE",
				zap.String("vault", cfg.Vault.Root),
				zap.Float64("threshold", cfg.Gate.Threshold),
				zap.Duration("interval", cfg.Orchestrator.Interval))

			if err := c.Start(ctx); err != nil {
				_ = c.Close()
				return err
			}

			<-ctx.Done()
			logger.Info("Shutting down")

			return c.Close()
		},
	}
}
