package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	domainauth "github.com/qslabs/schoolgate/internal/domain/auth"
	"github.com/qslabs/schoolgate/internal/domain/model"
	"github.com/spf13/cobra"
)

func newUserCmd(deps *infra) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage password-login users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newUserCreateCmd(deps),
		newUserListCmd(deps),
		newUserDeleteCmd(deps),
		newUserSetRoleCmd(deps),
	)
	return cmd
}

func newUserCreateCmd(deps *infra) *cobra.Command {
	var (
		req           model.CreateUserRequest
		role          string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Example: `  schoolgate-admin user create --username ada --email ada@school.example --role teacher --password-stdin
  schoolgate-admin user create --username root --email root@school.example --role admin --password 's3cret!'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				pw, err := readPassword(cmd)
				if err != nil {
					return err
				}
				req.Password = pw
			}
			req.Role = domainauth.Role(role)

			users, err := deps.users(cmd.Context())
			if err != nil {
				return err
			}
			user, err := users.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d, role %s)\n", user.Username, user.ID, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "login name")
	cmd.Flags().StringVar(&req.Email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(domainauth.RoleStudent), "admin, teacher or student")
	cmd.Flags().StringVar(&req.Password, "password", "", "password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newUserListCmd(deps *infra) *cobra.Command {
	var (
		role   string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := model.UserListOptions{Limit: limit, Offset: offset}
			if role != "" {
				r, err := domainauth.ParseRole(role)
				if err != nil {
					return err
				}
				opts.Role = &r
			}

			users, err := deps.users(cmd.Context())
			if err != nil {
				return err
			}
			list, err := users.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tROLE\tLAST LOGIN")
			for _, u := range list {
				last := "never"
				if u.LastLoginAt != nil {
					last = u.LastLoginAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, u.Role, last)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "only list users with this role")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of users")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of users to skip")
	return cmd
}

func newUserDeleteCmd(deps *infra) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user and revoke their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := deps.users(cmd.Context())
			if err != nil {
				return err
			}
			user, err := users.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			deleted, err := users.Delete(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			if !deleted {
				return errors.New("user already removed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s\n", user.Username)
			return nil
		},
	}
}

func newUserSetRoleCmd(deps *infra) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <username> <role>",
		Short: "Change a user's role and revoke their sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domainauth.ParseRole(args[1])
			if err != nil {
				return err
			}
			users, err := deps.users(cmd.Context())
			if err != nil {
				return err
			}
			user, err := users.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			updated, err := users.SetRole(cmd.Context(), user.ID, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s is now %s\n", updated.Username, updated.Role)
			return nil
		},
	}
}
