package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/config"
	"github.com/garyjia/digital-fte/internal/container"
	"github.com/garyjia/digital-fte/pkg/utils"
)

var (
	cfgFile  string
	vaultDir string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fte",
	Short: "Digital FTE task lifecycle engine",
	Long: `fte turns inbound messages and dropped files into tasks, asks the
decision oracle what to do with each one, and either acts on its own or
waits for a human to approve.

Examples:
  fte init --vault ./AI_Employee_Vault
  fte start --config configs/config.yaml
  fte status
  fte approve task_20260608T090000_inbox_1a2b3c4d
  fte reject task_20260608T090000_inbox_1a2b3c4d --reason "wrong recipient"`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (YAML); defaults and environment only when empty")
	pf.StringVar(&vaultDir, "vault", "", "vault root, overrides vault.root")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newStartCmd(),
		newStatusCmd(),
		newApproveCmd(),
		newRejectCmd(),
		newRequeueCmd(),
		newInitCmd(),
		newBriefingCmd(),
		newCheckCmd(),
	)
}

// loadConfig reads configuration and applies command line overrides
func loadConfig() (*config.Config, error) {
	if vaultDir != "" {
		os.Setenv("FTE_VAULT_ROOT", vaultDir)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Short-lived commands log warnings
// only unless --log-level says otherwise, so their output stays readable.
func newLogger(cfg *config.Config, daemon bool) (*zap.Logger, error) {
	level := cfg.Logger.Level
	if !daemon && logLevel == "" {
		level = "warn"
	}
	return utils.NewLogger(utils.LoggerConfig{
		Level:      level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
	})
}

// openContainer loads config and opens the core components for a one-shot command
func openContainer(ctx context.Context) (*container.Container, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Open(ctx); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := c.Close(); err != nil {
			logger.Warn("Close failed", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return c, cleanup, nil
}
