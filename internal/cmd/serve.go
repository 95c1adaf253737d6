package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/config"
	"github.com/aman-churiwal/rpc-gateway/internal/server"
	"github.com/aman-churiwal/rpc-gateway/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON-RPC gateway",
	Long: `Start the gateway HTTP server. Cancelling the command context (SIGINT or
SIGTERM from main) drains in-flight requests before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := server.Options{}

	if cfg.RateLimit.Store == config.StoreRedis {
		redis, err := storage.NewRedis(
			cfg.Redis.GetRedisAddr(),
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redis.Close()

		logger.Info("Connected to redis", zap.String("addr", cfg.Redis.GetRedisAddr()))
		opts.Redis = redis
	}

	srv, err := server.New(cfg, logger, opts)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-cmd.Context().Done():
		logger.Info("Shutdown requested")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}
