package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/container"
	"github.com/garyjia/digital-fte/internal/infrastructure/storage"
)

const sampleTask = `From: supplier@example.com
Subject: Invoice 2026-118 overdue

Hi, our invoice 2026-118 for $420 is now two weeks overdue. Could you confirm
when it will be paid?`

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify connections to external services",
	}
	cmd.AddCommand(newCheckOracleCmd(), newCheckLarkCmd())
	return cmd
}

func newCheckOracleCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Send a sample task to the decision oracle and print its proposal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			oracle, err := container.ProvideOracle(&cfg.Oracle, logger)
			if err != nil {
				return err
			}
			policies, err := storage.NewPolicyFiles(cfg.Vault.Root, logger).Policies(cmd.Context())
			if err != nil {
				return err
			}

			pterm.Info.Printfln("Model %s, %d policy documents, timeout %s", cfg.Oracle.Model, len(policies), timeout)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			action, err := oracle.Propose(ctx, port.OracleRequest{
				TaskID:   "task_check",
				TaskText: sampleTask,
				Policies: policies,
			})
			if err != nil {
				return fmt.Errorf("oracle check failed after %s: %w", time.Since(start).Round(time.Millisecond), err)
			}

			pterm.Success.Printfln("Oracle answered in %s", time.Since(start).Round(time.Millisecond))
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"Action", string(action.Type)},
				{"Confidence", fmt.Sprintf("%.2f", action.Confidence)},
				{"Requires approval", fmt.Sprintf("%t", action.RequiresApproval)},
				{"Reasoning", action.Reasoning},
			}).Render()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "call timeout")
	return cmd
}

func newCheckLarkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lark",
		Short: "Send a test notification to the configured Lark recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			bundle := container.ProvideLark(&cfg.Lark, logger)
			if bundle == nil {
				return fmt.Errorf("lark.app_id and lark.app_secret are not set")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			body := fmt.Sprintf("Test notification sent at %s.\nApproval prompts will arrive here.", time.Now().Format(time.RFC3339))
			if err := bundle.Messenger.Notify(ctx, "Digital FTE check", body); err != nil {
				return fmt.Errorf("lark check failed: %w", err)
			}
			pterm.Success.Println("Notification delivered")
			return nil
		},
	}
}
