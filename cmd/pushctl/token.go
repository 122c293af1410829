package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kursadbilgin/push-engine/internal/auth"
	"github.com/spf13/cobra"
)

type tokenOptions struct {
	secret   string
	issuer   string
	userID   string
	username string
	admin    bool
	ttl      time.Duration
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint session tokens",
	}

	opts := tokenOptions{}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed bearer token for a user identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				opts.secret = os.Getenv("JWT_SECRET")
			}
			tokens, err := auth.NewTokenService(auth.Config{
				Secret: opts.secret,
				Issuer: opts.issuer,
				TTL:    opts.ttl,
			})
			if err != nil {
				return err
			}

			token, err := tokens.Issue(auth.Session{
				UserID:   opts.userID,
				Username: opts.username,
				Admin:    opts.admin,
			}, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	flags := issue.Flags()
	flags.StringVar(&opts.secret, "secret", "", "HMAC secret (defaults to $JWT_SECRET)")
	flags.StringVar(&opts.issuer, "issuer", "push-engine", "token issuer")
	flags.StringVar(&opts.userID, "user", "", "user identity, usually an email address")
	flags.StringVar(&opts.username, "name", "", "display name")
	flags.BoolVar(&opts.admin, "admin", false, "grant the admin claim")
	flags.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = issue.MarkFlagRequired("user")

	cmd.AddCommand(issue)
	return cmd
}
