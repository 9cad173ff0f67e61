// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pharmadiet/pharmadiet/internal/access"
)

// NewPermissionsCmd creates the permissions subcommand.
func NewPermissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permissions [ROLE] [PATTERN]",
		Short: "Print the role to permission table",
		Long: `Print the static role to permission table. With ROLE, print only that
role; with PATTERN (a glob such as "client:*"; "**" matches all), only
matching permissions.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := access.NewResolver()

			roles := access.Roles()
			if len(args) > 0 {
				role, err := access.ParseRole(args[0])
				if err != nil {
					return err //nolint:wrapcheck // access errors carry codes
				}
				roles = []access.Role{role}
			}
			pattern := "**"
			if len(args) > 1 {
				pattern = args[1]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tPERMISSIONS")
			for _, role := range roles {
				perms, err := resolver.Match(role, pattern)
				if err != nil {
					return err //nolint:wrapcheck // access errors carry codes
				}
				names := make([]string, len(perms))
				for i, p := range perms {
					names[i] = string(p)
				}
				fmt.Fprintf(w, "%s\t%s\n", role, strings.Join(names, ", "))
			}
			return w.Flush() //nolint:wrapcheck // stdout write
		},
	}
}
