// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pharmadiet/pharmadiet/internal/auth"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	var (
		iterations int
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long: `Read one password line from stdin and print a fresh salt and its PBKDF2
hash, for operators seeding or repairing user rows by hand. The password
must satisfy the default strength policy unless --skip-policy is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			if !skipPolicy {
				if err := auth.DefaultPasswordPolicy().Check(password); err != nil {
					return err //nolint:wrapcheck // policy errors carry codes
				}
			}

			hasher := auth.NewPBKDF2Hasher(iterations)
			salt, err := hasher.GenerateSalt()
			if err != nil {
				return err //nolint:wrapcheck // hasher errors carry codes
			}
			cmd.Printf("salt: %s\nhash: %s\niterations: %d\n", salt, hasher.Hash(password, salt), hasher.Iterations())
			return nil
		},
	}

	cmd.Flags().IntVar(&iterations, "iterations", auth.DefaultHashIterations, "PBKDF2 iterations")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "hash even if the password is weak")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", oops.Code("INPUT_READ_FAILED").Wrap(err)
		}
		return "", oops.Code("AUTH_VALIDATION").Errorf("no password on stdin")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", oops.Code("AUTH_VALIDATION").Errorf("password must not be empty")
	}
	return password, nil
}
