package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	jwttoken "replate/internal/jwt_token"
	"replate/internal/platform/postgres"
	id "replate/pkg/domain"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.URL == "" {
				return errors.New("DATABASE_URL is required")
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, a.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "schema applied")
			return nil
		},
	}
}

// tokenCmd mints a bearer token signed with the configured key. Meant for
// local development against a server without an identity provider.
func tokenCmd(a *app) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "token [account_id]",
		Short: "Mint a development bearer token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID := id.NewAccountID()
			if len(args) == 1 {
				parsed, err := id.ParseAccountID(args[0])
				if err != nil {
					return fmt.Errorf("account_id: %w", err)
				}
				accountID = parsed
			}
			svc := jwttoken.NewJWTService(a.cfg.Auth.JWTSigningKey, a.cfg.Auth.JWTIssuer)
			token, err := svc.GenerateAccessToken(accountID, email, name, a.cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account_id: %s\ntoken:      %s\n", accountID, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "name claim")
	return cmd
}
