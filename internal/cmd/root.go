package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aman-churiwal/rpc-gateway/internal/config"
	"github.com/aman-churiwal/rpc-gateway/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	verbose bool

	// set by loadRuntime before any subcommand runs
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   filepath.Base(os.Args[0]),
	Short: "JSON-RPC gateway and resilient multi-endpoint transport",
	Long: `rpc-gateway guards a private JSON-RPC upstream behind an origin allow-list
and a per-client rate limit, and ships a client transport that rotates across
several endpoints and tracks transaction confirmation in two phases.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON or YAML); environment variables take precedence")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	rootCmd.AddCommand(serveCmd, callCmd, sendCmd, waitCmd, tokenCmd)
}

func loadRuntime(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := loaded.LogLevel
	if verbose {
		level = "debug"
	}

	l, err := observability.NewLogger(loaded.Server.Environment, level)
	if err != nil {
		return err
	}

	cfg, logger = loaded, l
	return nil
}
