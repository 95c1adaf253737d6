package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aman-churiwal/rpc-gateway/internal/transport"
	"github.com/spf13/cobra"
)

var showStatus bool

func addTransportFlags(c *cobra.Command) {
	c.Flags().BoolVar(&showStatus, "status", false, "print per-endpoint call statistics afterwards")
}

func newTransport(ctx context.Context) (*transport.Transport, error) {
	return transport.New(ctx, transport.Config{
		Endpoints:           cfg.Transport.Endpoints,
		Backup:              cfg.Transport.Backup,
		ChainID:             cfg.Transport.ChainID,
		ConfirmationTimeout: cfg.Transport.ConfirmationTimeout,
		PollInterval:        cfg.Transport.PollInterval,
		MaxPollFailures:     cfg.Transport.MaxPollFailures,
		Logger:              logger.Named("transport"),
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printStatus(c *cobra.Command, t *transport.Transport) {
	if !showStatus {
		return
	}
	_ = printJSON(c.ErrOrStderr(), t.Status())
}
