package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const tokenPreview = 8

func newSessionCmd(deps *infra) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and revoke registered sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newSessionListCmd(deps), newSessionRevokeCmd(deps))
	return cmd
}

func newSessionListCmd(deps *infra) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live sessions in the token registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := deps.sessions(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := reg.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tUSER ID\tUSERNAME\tROLE\tEXPIRES")
			for _, s := range sessions {
				token := s.Token
				if !full && len(token) > tokenPreview {
					token = token[:tokenPreview] + "..."
				}
				expires := "never"
				if s.ExpiresAt != nil {
					expires = s.ExpiresAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", token, s.UserID, s.Username, s.Role, expires)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d session(s)\n", len(sessions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print complete tokens")
	return cmd
}

func newSessionRevokeCmd(deps *infra) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "revoke [token]",
		Short: "Revoke one session by token, or every session of a user",
		Example: `  schoolgate-admin session revoke 6f1c9a52-0d1e-4d8e-9f5a-3b7c2e1d4a90
  schoolgate-admin session revoke --user 42`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (userID != "") {
				return errors.New("pass either a token or --user")
			}
			reg, err := deps.sessions(cmd.Context())
			if err != nil {
				return err
			}
			if userID != "" {
				n, err := reg.DeleteByUser(cmd.Context(), userID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s) for user %s\n", n, userID)
				return nil
			}
			if err := reg.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session revoked")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "revoke all sessions for this user ID")
	return cmd
}
