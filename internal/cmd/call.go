package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [param...]",
	Short: "Issue one JSON-RPC call through the endpoint pool",
	Long: `Issue one JSON-RPC call with endpoint failover. Each param is parsed as
JSON and falls back to a plain string, so both of these work:

  rpc-gateway call eth_getBalance 0xabc... latest
  rpc-gateway call eth_call '{"to":"0xabc...","data":"0x"}' latest`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		ctx := c.Context()

		t, err := newTransport(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		defer printStatus(c, t)

		params := make([]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			params = append(params, parseParam(arg))
		}

		var result json.RawMessage
		if err := t.Call(ctx, &result, args[0], params...); err != nil {
			return fmt.Errorf("%s failed: %w", args[0], err)
		}

		return printJSON(c.OutOrStdout(), result)
	},
}

func init() {
	addTransportFlags(callCmd)
}

func parseParam(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}
	return arg
}
