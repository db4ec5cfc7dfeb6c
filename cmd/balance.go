package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/model"
)

var balanceHistory int

var balanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "balance: open store")
		}
		defer st.Close()

		led := ledger.New(st, cfg.Engine.LedgerRetries)
		account, err := led.EnsureAccount(cmd.Context(), args[0], model.PlanFree)
		if err != nil {
			return eris.Wrap(err, "balance: account")
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "user:      %s (%s)\n", account.UserID, account.Plan)
		fmt.Fprintf(w, "balance:   %d\n", account.Balance)
		fmt.Fprintf(w, "purchased: %d\n", account.TotalPurchased)
		fmt.Fprintf(w, "spent:     %d\n", account.TotalSpent)

		if balanceHistory > 0 {
			transactions, err := led.History(cmd.Context(), account.UserID, balanceHistory)
			if err != nil {
				return eris.Wrap(err, "balance: history")
			}
			fmt.Fprintln(w)
			for _, tx := range transactions {
				fmt.Fprintf(w, "%s  %-10s  %+6d  balance=%d\n",
					tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Type, tx.Amount, tx.BalanceAfter)
			}
		}
		return nil
	},
}

func init() {
	balanceCmd.Flags().IntVar(&balanceHistory, "history", 0, "also print the last N transactions")
	rootCmd.AddCommand(balanceCmd)
}
