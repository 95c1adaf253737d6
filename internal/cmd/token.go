package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/rpc-gateway/internal/service"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the admin endpoints",
	RunE: func(c *cobra.Command, args []string) error {
		if cfg.Admin.JWTSecret == "" {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}

		token, err := service.NewTokenService(cfg.Admin.JWTSecret, tokenTTL).Generate(tokenSubject)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(c.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
