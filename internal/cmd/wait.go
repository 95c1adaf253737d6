package cmd

import (
	"fmt"

	"github.com/aman-churiwal/rpc-gateway/internal/transport"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

var waitCmd = &cobra.Command{
	Use:   "wait <tx-hash>",
	Short: "Track confirmation of an already submitted transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		ctx := c.Context()

		raw, err := hexutil.Decode(args[0])
		if err != nil || len(raw) != common.HashLength {
			return fmt.Errorf("invalid transaction hash %q", args[0])
		}

		t, err := newTransport(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		defer printStatus(c, t)

		confirmation := t.WaitForConfirmation(ctx, common.BytesToHash(raw))
		return printJSON(c.OutOrStdout(), confirmationView(confirmation))
	},
}

func init() {
	addTransportFlags(waitCmd)
}

type confirmationOutput struct {
	Hash    string         `json:"hash"`
	State   string         `json:"state"`
	Phase   int            `json:"phase,omitempty"`
	Receipt *types.Receipt `json:"receipt,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func confirmationView(c *transport.Confirmation) confirmationOutput {
	out := confirmationOutput{
		Hash:    c.Hash.Hex(),
		State:   c.State.String(),
		Phase:   c.Phase,
		Receipt: c.Receipt,
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return out
}
