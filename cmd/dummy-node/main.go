package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/devnode"
	"github.com/aman-churiwal/rpc-gateway/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	port      int
	chainID   uint64
	mineDelay time.Duration
	failRate  float64
)

var rootCmd = &cobra.Command{
	Use:          "dummy-node",
	Short:        "Local JSON-RPC node that mines submitted transactions after a delay",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().IntVar(&port, "port", 8545, "listen port")
	rootCmd.Flags().Uint64Var(&chainID, "chain-id", 1, "chain id reported by eth_chainId")
	rootCmd.Flags().DurationVar(&mineDelay, "mine-delay", 3*time.Second, "time before a submitted transaction is mined")
	rootCmd.Flags().Float64Var(&failRate, "fail-rate", 0, "share of requests answered with 503, for exercising failover")
}

func run(cmd *cobra.Command, args []string) error {
	gin.SetMode(gin.ReleaseMode)

	logger, err := observability.NewLogger("development", "info")
	if err != nil {
		return err
	}
	defer logger.Sync()

	node := devnode.New(devnode.Config{
		ChainID:   chainID,
		MineDelay: mineDelay,
		FailRate:  failRate,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           node.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("Dummy node listening", zap.Int("port", port), zap.Uint64("chain_id", chainID))

	select {
	case err := <-errCh:
		return err
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
