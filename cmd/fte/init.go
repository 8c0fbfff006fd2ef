package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/infrastructure/storage"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vault folders and policy stubs",
		Long: `Creates Inbox, every task partition, Files, Logs and Briefings under the
vault root, plus Company_Handbook.md, Business_Goals.md and Dashboard.md.
Existing files are left untouched.`,
		Args: cobra.NoArgs,
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

			created, err := storage.InitVault(cfg.Vault.Root, logger.With(zap.String("command", "init")))
			if err != nil {
				return err
			}

			if len(created) == 0 {
				pterm.Info.Printfln("Vault at %s is already complete", cfg.Vault.Root)
				return nil
			}
			items := make([]pterm.BulletListItem, 0, len(created))
			for _, path := range created {
				items = append(items, pterm.BulletListItem{Level: 0, Text: path})
			}
			pterm.Success.Printfln("Initialized vault at %s", cfg.Vault.Root)
			return pterm.DefaultBulletList.WithItems(items).Render()
		},
	}
}
