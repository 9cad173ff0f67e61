// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"encoding/json"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pharmadiet/pharmadiet/internal/auth"
)

// tokenReport is the JSON printed by "token verify".
type tokenReport struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCmd creates the token command group.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify a bearer token against the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			if cfg.Security.JWTSecret == "" {
				return oops.Code("TOKEN_SECRET_MISSING").
					Errorf("security.jwt_secret must be configured to verify tokens")
			}
			tokens, err := auth.NewTokenService([]byte(cfg.Security.JWTSecret), cfg.Security.TokenTTL)
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry codes
			}
			claims, err := tokens.Verify(args[0])
			if err != nil {
				cmd.PrintErrln(auth.PublicMessage(err))
				return err //nolint:wrapcheck // auth errors carry codes
			}

			report := tokenReport{
				Valid:    true,
				UserID:   claims.UserID,
				Username: claims.Username,
				Role:     string(claims.Role),
			}
			if claims.IssuedAt != nil {
				report.IssuedAt = claims.IssuedAt.UTC()
			}
			if claims.ExpiresAt != nil {
				report.ExpiresAt = claims.ExpiresAt.UTC()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report) //nolint:wrapcheck // stdout write
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "secret",
		Short: "Print a new random value for security.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := auth.GenerateSecret()
			if err != nil {
				return err //nolint:wrapcheck // auth errors carry codes
			}
			cmd.Println(secret)
			return nil
		},
	})

	return cmd
}
