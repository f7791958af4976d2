package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/approval-service/internal/auth"
	"github.com/spec-kit/approval-service/internal/config"
)

func newTokenCmd() *cobra.Command {
	var accountID int64

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an account (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accountID <= 0 {
				return errors.New("--account must be a positive account id")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.App.Env == "production" {
				return errors.New("token minting is disabled in production")
			}

			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(accountID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id to place in the sub claim")
	return cmd
}
