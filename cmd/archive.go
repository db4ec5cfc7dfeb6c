package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/promptforge-ai/demon-engine/internal/ledger"
)

// archiveCmd soft-deletes an account while keeping its transaction log.
var archiveCmd = &cobra.Command{
	Use:   "archive <user-id>",
	Short: "Soft-archive a user's credit account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "archive: open store")
		}
		defer st.Close()

		led := ledger.New(st, cfg.Engine.LedgerRetries)
		if err := led.Archive(cmd.Context(), args[0]); err != nil {
			return eris.Wrap(err, "archive")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
