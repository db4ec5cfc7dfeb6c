package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/model"
)

var grantEventID string

// grantCmd credits a user manually, for support cases and local testing.
var grantCmd = &cobra.Command{
	Use:   "grant <user-id> <credits>",
	Short: "Credit a user's account manually",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || amount <= 0 {
			return eris.New("grant: credits must be a positive integer")
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "grant: open store")
		}
		defer st.Close()

		led := ledger.New(st, cfg.Engine.LedgerRetries)
		if _, err := led.EnsureAccount(cmd.Context(), args[0], model.PlanFree); err != nil {
			return eris.Wrap(err, "grant: account")
		}

		eventID := grantEventID
		if eventID == "" {
			eventID = "manual:" + uuid.New().String()
		}
		result, err := led.Purchase(cmd.Context(), args[0], amount, eventID)
		if err != nil {
			return eris.Wrap(err, "grant: credit")
		}
		if result.Replayed {
			fmt.Fprintf(cmd.OutOrStdout(), "already granted under %s, balance %d\n",
				eventID, result.Transaction.BalanceAfter)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits to %s, balance %d\n",
			amount, args[0], result.Transaction.BalanceAfter)
		return nil
	},
}

func init() {
	grantCmd.Flags().StringVar(&grantEventID, "event-id", "", "idempotency key for the grant (defaults to a random one)")
	rootCmd.AddCommand(grantCmd)
}
