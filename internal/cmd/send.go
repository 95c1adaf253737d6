package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

var sendWait bool

var sendCmd = &cobra.Command{
	Use:   "send <raw-signed-tx>",
	Short: "Submit a signed transaction once and optionally track it",
	Long: `Submit a hex encoded signed transaction through the endpoint the pool
is bound to. Submission is never retried on another endpoint. With --wait
the command then runs the two-phase confirmation; a transaction that could
not be tracked is reported as accepted, not as a failure.`,
	Args: cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		ctx := c.Context()

		raw, err := hexutil.Decode(args[0])
		if err != nil {
			return fmt.Errorf("invalid raw transaction: %w", err)
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("invalid raw transaction: %w", err)
		}

		t, err := newTransport(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		defer printStatus(c, t)

		if chainID := tx.ChainId(); chainID != nil && chainID.Sign() != 0 && chainID.Cmp(t.ChainID()) != 0 {
			return fmt.Errorf("transaction chain id %s does not match configured %s", chainID, t.ChainID())
		}
		// a node on another chain must not see the transaction
		if err := t.CheckChainID(ctx); err != nil {
			return err
		}

		if !sendWait {
			hash, err := t.SendTransaction(ctx, tx)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), map[string]string{"hash": hash.Hex()})
		}

		confirmation, err := t.SubmitAndConfirm(ctx, tx)
		if err != nil {
			return err
		}
		return printJSON(c.OutOrStdout(), confirmationView(confirmation))
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "wait for the transaction receipt")
	addTransportFlags(sendCmd)
}
