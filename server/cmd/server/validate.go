package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardwatch/wardwatch/server/internal/auth"
	"github.com/wardwatch/wardwatch/server/internal/config"
)

// validateCmd loads the config and prints the effective escalation ladder.
func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print the escalation policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if _, err := cfg.Policy(); err != nil {
				return fmt.Errorf("escalation policy: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %s\n", *configPath)
			fmt.Fprintf(out, "  http :%d  grpc :%d  auth %s  store %s\n",
				cfg.Server.HTTPPort, cfg.Server.GRPCPort, cfg.Server.Auth.Mode, cfg.Store.Driver)
			for i, t := range cfg.Escalation.Tiers {
				fmt.Fprintf(out, "  tier %d  %-8s  %s\n", i+1, t.Timeout, strings.Join(t.Roles, ", "))
			}
			return nil
		},
	}
}

// tokenCmd mints a JWT for local testing with the configured secret.
func tokenCmd(configPath *string) *cobra.Command {
	var (
		subject   string
		role      string
		hospitals []string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed JWT for a responder (jwt auth mode)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Server.Auth.Mode != auth.ModeJWT {
				return fmt.Errorf("server.auth.mode is %q, not jwt", cfg.Server.Auth.Mode)
			}
			v, err := auth.NewJWTVerifier(cfg.Server.Auth.JWTSecret(), cfg.Server.Auth.JWTIssuer)
			if err != nil {
				return err
			}
			tok, err := v.Sign(auth.Principal{Subject: subject, Role: role, Hospitals: hospitals}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "responder identity (required)")
	cmd.Flags().StringVar(&role, "role", "", "responder role (required)")
	cmd.Flags().StringSliceVar(&hospitals, "hospital", nil, "allowed hospital id; repeatable, empty allows all")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("sub")  //nolint:errcheck
	cmd.MarkFlagRequired("role") //nolint:errcheck
	return cmd
}
