package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "demon-engine",
	Short: "Credit-metered prompt upgrade service",
	Long:  "Routes prompt upgrade requests to technique pipelines, executes them against model providers with failover, and meters every request against a credit ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
