package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/onboard-forms/internal/identity"
)

// newTokenCmd mints bearer tokens with the configured secret for local
// testing against an auth-enabled server.
func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is required to sign tokens")
			}
			var tokenOpts []identity.TokenOption
			if cfg.Auth.Issuer != "" {
				tokenOpts = append(tokenOpts, identity.WithIssuer(cfg.Auth.Issuer))
			}
			if cfg.Auth.Audience != "" {
				tokenOpts = append(tokenOpts, identity.WithAudience(cfg.Auth.Audience))
			}
			signer, err := identity.NewTokenVerifier([]byte(cfg.Auth.JWTSecret), tokenOpts...)
			if err != nil {
				return err
			}
			token, err := signer.Sign(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
